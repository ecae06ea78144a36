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

package maintenance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestRequestRestart_SucceedsOnAcknowledgedRestart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Write([]byte(`{"success":true,"message":"All services restarted successfully"}`))
	}))
	defer srv.Close()

	c := NewCoordinator(srv.URL)
	if !c.RequestRestart(context.Background()) {
		t.Fatal("RequestRestart = false for an acknowledged restart")
	}
	if c.IsRestarting() {
		t.Fatal("IsRestarting must clear once the restart returns")
	}
}

func TestRequestRestart_ReportsControlFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":"restart script failed"}`))
	}))
	defer srv.Close()

	c := NewCoordinator(srv.URL)
	if c.RequestRestart(context.Background()) {
		t.Fatal("RequestRestart = true despite a failed control call")
	}
}

func TestRequestRestart_UnreachableControlEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewCoordinator(srv.URL)
	if c.RequestRestart(context.Background()) {
		t.Fatal("RequestRestart = true against an unreachable endpoint")
	}
	if c.IsRestarting() {
		t.Fatal("IsRestarting must clear after a failed attempt")
	}
}

func TestRequestRestart_SingleInFlight(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewCoordinator(srv.URL)

	var wg sync.WaitGroup
	wg.Add(1)
	first := false
	go func() {
		defer wg.Done()
		first = c.RequestRestart(context.Background())
	}()

	// Wait for the first request to claim the in-flight slot.
	deadline := time.Now().Add(2 * time.Second)
	for !c.IsRestarting() {
		if time.Now().After(deadline) {
			t.Fatal("first restart never became pending")
		}
		time.Sleep(time.Millisecond)
	}

	if c.RequestRestart(context.Background()) {
		t.Fatal("second concurrent restart must be refused")
	}

	close(release)
	wg.Wait()
	if !first {
		t.Fatal("first restart should have succeeded")
	}
	if c.IsRestarting() {
		t.Fatal("IsRestarting must clear after completion")
	}
}
