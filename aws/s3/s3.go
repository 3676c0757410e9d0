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

// Package s3 opens artifacts from an S3 mirror of the GDELT file tree.
package s3

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/download"
	"github.com/pkg/errors"
)

var _ download.Opener = &Opener{}

// Scheme is the URL scheme served by Opener.
const Scheme = "s3"

// OpenerOption is a functional option type for s3.Opener.
type OpenerOption func(o *Opener)

// OptOpenerRegion sets the AWS region used when no client is given.
func OptOpenerRegion(region string) OpenerOption {
	return func(o *Opener) {
		o.region = region
	}
}

// OptOpenerClient sets the S3 client.
func OptOpenerClient(c s3iface.S3API) OpenerOption {
	return func(o *Opener) {
		o.s3 = c
	}
}

// Opener is a download.Opener for s3://bucket/key URLs.
type Opener struct {
	region string
	s3     s3iface.S3API
}

// NewOpener returns a new Opener with the options applied. Without
// OptOpenerClient a session is created from the environment.
func NewOpener(opts ...OpenerOption) (*Opener, error) {
	o := &Opener{}
	for _, opt := range opts {
		opt(o)
	}
	if o.s3 == nil {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(o.region)},
		)
		if err != nil {
			return nil, &gdelt.ConfigurationError{Setting: "s3", Reason: errors.Wrap(err, "getting new session").Error()}
		}
		o.s3 = s3.New(sess)
	}
	return o, nil
}

// Open implements download.Opener.
func (o *Opener) Open(ctx context.Context, u string) (io.ReadCloser, error) {
	bucket, key, err := SplitURL(u)
	if err != nil {
		return nil, err
	}
	result, err := o.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(bucket, err)
	}
	return result.Body, nil
}

// SplitURL returns the bucket and key of an s3:// URL.
func SplitURL(u string) (bucket, key string, err error) {
	pu, err := url.Parse(u)
	if err != nil {
		return "", "", errors.Wrapf(err, "parsing %s", u)
	}
	if pu.Scheme != Scheme || pu.Host == "" {
		return "", "", errors.Errorf("not an s3 url: %s", u)
	}
	key = strings.TrimPrefix(pu.Path, "/")
	if key == "" {
		return "", "", errors.Errorf("no key in %s", u)
	}
	return pu.Host, key, nil
}

// classify maps S3 throttling and server errors to the recoverable error
// classes. The SDK has already spent its own retries.
func classify(bucket string, err error) error {
	backend := Scheme + "://" + bucket
	if rf, ok := err.(awserr.RequestFailure); ok {
		if rf.Code() == "SlowDown" {
			return &gdelt.RateLimitedError{Backend: backend}
		}
		if serr := gdelt.StatusError(backend, rf.StatusCode(), ""); gdelt.IsRecoverable(serr) {
			return serr
		}
		return errors.Wrapf(err, "fetching from %s", backend)
	}
	if ae, ok := err.(awserr.Error); ok && ae.Code() == request.ErrCodeRequestError {
		return &gdelt.BackendUnavailableError{Backend: backend, Err: err}
	}
	return errors.Wrapf(err, "fetching from %s", backend)
}
