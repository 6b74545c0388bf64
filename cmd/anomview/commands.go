// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	serverURL string

	rootCmd = &cobra.Command{
		Use:   "anomview",
		Short: "Operator CLI for the AnomView viewer service",
	}

	ingestCmd = &cobra.Command{
		Use:   "ingest <batch.json>",
		Short: "Submit a telemetry batch to the viewer",
		Args:  cobra.ExactArgs(1),
		Run:   runIngest,
	}

	executionsCmd = &cobra.Command{
		Use:   "executions <batch.json>",
		Short: "Submit an execution batch to the viewer",
		Args:  cobra.ExactArgs(1),
		Run:   runExecutions,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Fetch historical samples for one app/rank",
		Run:   runStats,
	}

	funcStatsCmd = &cobra.Command{
		Use:   "funcstats",
		Short: "Fetch the current per-function snapshots",
		Run:   runFuncStats,
	}

	spansCmd = &cobra.Command{
		Use:   "spans",
		Short: "Fetch execution spans in a timestamp range",
		Run:   runSpans,
	}

	stepsCmd = &cobra.Command{
		Use:   "steps",
		Short: "List the execution steps available on disk",
		Run:   runSteps,
	}

	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Trigger a paced replay of the stored history",
		Run:   runSimulate,
	}

	statsApp   int
	statsRank  int
	statsLimit int
	funcFID    int

	spanMinTS int64
	spanMaxTS int64
	spanOrder string
	spanComm  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("ANOMVIEW_SERVER", "http://localhost:5002"), "viewer service base URL")

	statsCmd.Flags().IntVar(&statsApp, "app", 0, "application id")
	statsCmd.Flags().IntVar(&statsRank, "rank", 0, "rank id")
	statsCmd.Flags().IntVar(&statsLimit, "limit", 0, "max samples (0 = all)")
	funcStatsCmd.Flags().IntVar(&funcFID, "fid", -1, "function id (-1 = all)")

	spansCmd.Flags().Int64Var(&spanMinTS, "min-ts", 0, "range start (inclusive, entry timestamp)")
	spansCmd.Flags().Int64Var(&spanMaxTS, "max-ts", -1, "range end (inclusive, exit timestamp; -1 = open)")
	spansCmd.Flags().StringVar(&spanOrder, "order", "asc", "sort order: asc or desc")
	spansCmd.Flags().BoolVar(&spanComm, "comm", false, "attach communication events")

	rootCmd.AddCommand(ingestCmd, executionsCmd, statsCmd, funcStatsCmd, spansCmd, stepsCmd, simulateCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func postFile(path, endpoint string) {
	body, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}
	if !json.Valid(body) {
		log.Fatalf("%s is not valid JSON", path)
	}

	resp, err := httpClient.Post(serverURL+endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		log.Fatalf("Server returned %s: %s", resp.Status, out)
	}
	printResult(fmt.Sprintf("Accepted (%s)", resp.Status))
}

func getJSON(endpoint string, query url.Values) {
	target := serverURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	resp, err := httpClient.Get(target)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		log.Fatalf("Server returned %s: %s", resp.Status, out)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		fmt.Println(string(out))
		return
	}
	fmt.Println(pretty.String())
}

// printResult uses color only on a real terminal.
func printResult(msg string) {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("\033[32m%s\033[0m\n", msg)
	} else {
		fmt.Println(msg)
	}
}

func runIngest(cmd *cobra.Command, args []string) {
	postFile(args[0], "/api/anomalydata")
}

func runExecutions(cmd *cobra.Command, args []string) {
	postFile(args[0], "/api/executions")
}

func runStats(cmd *cobra.Command, args []string) {
	q := url.Values{}
	q.Set("app", fmt.Sprint(statsApp))
	q.Set("rank", fmt.Sprint(statsRank))
	if statsLimit > 0 {
		q.Set("limit", fmt.Sprint(statsLimit))
	}
	getJSON("/api/get_anomalydata", q)
}

func runFuncStats(cmd *cobra.Command, args []string) {
	q := url.Values{}
	if funcFID >= 0 {
		q.Set("fid", fmt.Sprint(funcFID))
	}
	getJSON("/api/get_funcstats", q)
}

func runSpans(cmd *cobra.Command, args []string) {
	q := url.Values{}
	q.Set("min_ts", fmt.Sprint(spanMinTS))
	if spanMaxTS >= 0 {
		q.Set("max_ts", fmt.Sprint(spanMaxTS))
	}
	q.Set("order", spanOrder)
	if spanComm {
		q.Set("with_comm", "true")
	}
	getJSON("/api/get_executions", q)
}

func runSteps(cmd *cobra.Command, args []string) {
	getJSON("/api/execution_steps", nil)
}

func runSimulate(cmd *cobra.Command, args []string) {
	getJSON("/api/run_simulation", nil)
}
