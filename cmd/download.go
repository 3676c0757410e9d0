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

package cmd

import (
	"io"
	"log"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/pilosa/gdelt/fetch"
	"github.com/spf13/cobra"
)

// DownloadMain is wrapped by NewDownloadCommand and only exported for
// testing purposes.
var DownloadMain *fetch.DownloadMain

// NewDownloadCommand returns a new cobra command wrapping DownloadMain.
func NewDownloadCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	DownloadMain = fetch.NewDownloadMain()
	DownloadMain.SetOutput(stdout, stderr)
	downloadCommand := &cobra.Command{
		Use:   "download",
		Short: "download - fetch artifacts, optionally into a local mirror",
		Long: `Downloads the artifacts of a date range, or explicit URLs, and lists
each one as it completes. With --mirror the decompressed artifacts are
saved under the directory, which can then be used as a file:// base URL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			err := DownloadMain.RunContext(cmd.Context())
			if err != nil {
				return err
			}
			log.New(stderr, "", log.LstdFlags).Println("Done: ", time.Since(start))
			return nil
		},
	}
	flags := downloadCommand.Flags()
	err := commandeer.Flags(flags, DownloadMain)
	if err != nil {
		panic(err)
	}
	return downloadCommand
}

func init() {
	subcommandFns["download"] = NewDownloadCommand
}
