// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// gbpctl inspects a running gbp-agent over its REST API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var agentAddr string

var cmdState = &cobra.Command{
	Use:   "state",
	Short: "Dump the desired dataplane state held by the reconciler",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		getAndPrint("/vppstate/dump")
	},
}

var cmdOwners = &cobra.Command{
	Use:   "owners",
	Short: "List desired-state keys grouped by the owning policy entity",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		getAndPrint("/vppstate/owners")
	},
}

var cmdIDs = &cobra.Command{
	Use:   "ids",
	Short: "Dump the identifier allocation pools",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		getAndPrint("/idalloc/dump")
	},
}

var cmdUplink = &cobra.Command{
	Use:   "uplink",
	Short: "Show the uplink state",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		getAndPrint("/uplink/state")
	},
}

var cmdEvents = &cobra.Command{
	Use:   "events",
	Short: "Print the history of processed events",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		getAndPrint("/controller/event-history")
	},
}

var cmdResync = &cobra.Command{
	Use:   "resync",
	Short: "Trigger a full re-render of all policy state",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := http.Post("http://"+agentAddr+"/controller/resync", "application/json", nil)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		body, _ := ioutil.ReadAll(resp.Body)
		fmt.Println(string(body))
	},
}

// getAndPrint GETs the given path from the agent and pretty-prints the
// JSON response.
func getAndPrint(path string) {
	resp, err := http.Get("http://" + agentAddr + path)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(indented.String())
}

func main() {
	rootCmd := &cobra.Command{Use: "gbpctl"}
	rootCmd.PersistentFlags().StringVarP(&agentAddr, "agent", "a",
		"127.0.0.1:9191", "address of the gbp-agent REST API")
	rootCmd.AddCommand(cmdState)
	rootCmd.AddCommand(cmdOwners)
	rootCmd.AddCommand(cmdIDs)
	rootCmd.AddCommand(cmdUplink)
	rootCmd.AddCommand(cmdEvents)
	rootCmd.AddCommand(cmdResync)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
