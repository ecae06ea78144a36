// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// paygen generates synthetic payment-list CSVs for exercising the dispatcher
// and, optionally, uploads them and starts a run in one shot.
//
// Examples:
//
//	go run ./tools/paygen -n 1000 -out payments.csv
//	go run ./tools/paygen -n 1000 -upload http://localhost:8080 -start
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"time"
)

var firstNames = []string{"Awa", "Kofi", "Fatou", "Moussa", "Aminata", "Ibrahim", "Mariama", "Sekou", "Adjoa", "Yao"}
var lastNames = []string{"Diallo", "Traore", "Kone", "Toure", "Keita", "Camara", "Cisse", "Bah", "Sow", "Doumbia"}

func main() {
	var (
		n        = flag.Int("n", 100, "Number of payment rows to generate")
		currency = flag.String("currency", "XOF", "Currency code for every row")
		minAmt   = flag.Int("min_amount", 5000, "Minimum amount (whole units)")
		maxAmt   = flag.Int("max_amount", 150000, "Maximum amount (whole units)")
		idType   = flag.String("id_type", "MSISDN", "Recipient identifier type")
		seed     = flag.Int64("seed", 0, "Random seed (0 = time-based)")
		out      = flag.String("out", "", "Output CSV path (empty = stdout)")
		upload   = flag.String("upload", "", "If non-empty, dispatcher base URL to upload the CSV to (e.g. http://localhost:8080)")
		name     = flag.String("name", "payments.csv", "Dataset name used for the upload fingerprint")
		start    = flag.Bool("start", false, "Start a run after uploading (requires -upload)")
		timeout  = flag.Duration("timeout", 30*time.Second, "HTTP timeout for upload/start calls")
	)
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	var buf bytes.Buffer
	buf.WriteString("type_id,valeur_id,devise,montant,nom_complet\n")
	for i := 0; i < *n; i++ {
		phone := fmt.Sprintf("22%d%08d", 1+rng.Intn(8), rng.Intn(100000000))
		amount := *minAmt
		if *maxAmt > *minAmt {
			amount += rng.Intn(*maxAmt - *minAmt)
		}
		payee := fmt.Sprintf("%s %s", firstNames[rng.Intn(len(firstNames))], lastNames[rng.Intn(len(lastNames))])
		fmt.Fprintf(&buf, "%s,%s,%s,%d,%s\n", *idType, phone, *currency, amount, payee)
	}

	if *out != "" {
		if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: writing %s: %v\n", *out, err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %d rows to %s\n", *n, *out)
	} else if *upload == "" {
		io.Copy(os.Stdout, &buf)
	}

	if *upload == "" {
		return
	}

	client := &http.Client{Timeout: *timeout}
	uploadURL := fmt.Sprintf("%s/datasets?name=%s", *upload, url.QueryEscape(*name))
	resp, err := client.Post(uploadURL, "text/csv", bytes.NewReader(buf.Bytes()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: uploading dataset: %v\n", err)
		os.Exit(1)
	}
	printResponse("upload", resp)

	if *start {
		resp, err := client.Post(*upload+"/runs", "application/json", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: starting run: %v\n", err)
			os.Exit(1)
		}
		printResponse("start", resp)
	}
}

func printResponse(step string, resp *http.Response) {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Printf("%s: %s\n%s\n", step, resp.Status, pretty.String())
		return
	}
	fmt.Printf("%s: %s\n%s\n", step, resp.Status, string(body))
}
