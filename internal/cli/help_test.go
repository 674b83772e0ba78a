// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
)

func testRootWithHelp() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "test",
		Short: "Test command",
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Sample subcommand",
		Long:  "This is a sample subcommand for testing",
	}
	sampleCmd.Flags().String("flag", "", "A sample flag")
	rootCmd.AddCommand(sampleCmd)

	rootCmd.SetHelpCommand(NewHelpCommand(rootCmd))
	return rootCmd
}

func TestHelpCommandJSON_ListsAllCommands(t *testing.T) {
	rootCmd := testRootWithHelp()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"help", "--json"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var resp HelpResponse
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("help output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(resp.Commands) == 0 {
		t.Fatal("expected at least one command in help output")
	}
	found := false
	for _, c := range resp.Commands {
		if c.Name == "sample" {
			found = true
			if c.Short != "Sample subcommand" {
				t.Fatalf("unexpected short description: %q", c.Short)
			}
		}
	}
	if !found {
		t.Fatal("expected 'sample' in the command list")
	}
	if len(resp.GlobalFlags) == 0 {
		t.Fatal("expected global flags in help output")
	}
}

func TestHelpCommandJSON_ShowsSpecificCommand(t *testing.T) {
	rootCmd := testRootWithHelp()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"help", "sample", "--json"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var resp HelpResponse
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("help output is not valid JSON: %v\n%s", err, buf.String())
	}
	if resp.Command == nil {
		t.Fatal("expected a single command in help output")
	}
	if resp.Command.Name != "sample" {
		t.Fatalf("unexpected command name: %q", resp.Command.Name)
	}
	if len(resp.Command.Flags) == 0 {
		t.Fatal("expected the sample command's flags to be listed")
	}
}

func TestHelpCommand_UnknownCommandErrors(t *testing.T) {
	rootCmd := testRootWithHelp()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"help", "nonexistent", "--json"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}
