// Copyright 2019 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package gdelt

import (
	"strings"
)

// FailurePolicy decides what happens to a bad record or a bad artifact once a
// backend has been chosen. It has no say in whether a backend is switched.
type FailurePolicy int

const (
	// PolicyWarn logs the error and drops the offending unit.
	PolicyWarn FailurePolicy = iota
	// PolicyRaise returns the error, ending the stream.
	PolicyRaise
	// PolicySkip drops the offending unit without logging.
	PolicySkip
)

// ParseFailurePolicy parses "raise", "warn" or "skip", ignoring case.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raise":
		return PolicyRaise, nil
	case "warn", "":
		return PolicyWarn, nil
	case "skip":
		return PolicySkip, nil
	}
	return PolicyWarn, &ConfigurationError{Setting: "policy", Reason: "unknown failure policy " + s}
}

func (p FailurePolicy) String() string {
	switch p {
	case PolicyRaise:
		return "raise"
	case PolicySkip:
		return "skip"
	default:
		return "warn"
	}
}

// Set implements pflag.Value.
func (p *FailurePolicy) Set(s string) error {
	pp, err := ParseFailurePolicy(s)
	if err != nil {
		return err
	}
	*p = pp
	return nil
}

// Type implements pflag.Value.
func (p *FailurePolicy) Type() string { return "policy" }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *FailurePolicy) UnmarshalText(text []byte) error {
	return p.Set(string(text))
}

// Handle applies the policy to err. It returns err when the stream must stop
// and nil when the unit is dropped. Configuration and range errors are
// returned under every policy.
func (p FailurePolicy) Handle(err error, log Logger) error {
	if err == nil {
		return nil
	}
	if IsConfiguration(err) || IsInvalidRange(err) {
		return err
	}
	switch p {
	case PolicyRaise:
		return err
	case PolicySkip:
		return nil
	default:
		OrNop(log).Printf("dropping: %v", err)
		return nil
	}
}
