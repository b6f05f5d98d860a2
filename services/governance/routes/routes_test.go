// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCommons/services/governance"
	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *governance.Service) {
	t.Helper()
	cfg := governance.DefaultConfig()
	cfg.InMemory = true
	cfg.DataDir = ""

	reg := prometheus.NewRegistry()
	svc, err := governance.NewService(cfg, nil, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	router := gin.New()
	SetupRoutes(router, svc, reg)
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerIdentity(t *testing.T, router *gin.Engine, id string) {
	t.Helper()
	w := doJSON(t, router, "POST", "/v1/identities",
		datatypes.RegisterIdentityRequest{ID: id})
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")

	w = doJSON(t, router, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProposalLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	registerIdentity(t, router, "mirror-1")

	w := doJSON(t, router, "POST", "/v1/proposals", datatypes.SubmitProposalRequest{
		Kind:       "pattern_modify",
		Title:      "Warmer opening tone",
		Payload:    map[string]any{"target": "tone.opening", "value": "warm"},
		ProposerID: "mirror-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var p datatypes.Proposal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, datatypes.ProposalActive, p.Status)

	w = doJSON(t, router, "POST", "/v1/proposals/"+p.ID+"/votes",
		datatypes.CastVoteRequest{IdentityID: "mirror-1", Choice: "for"})
	require.Equal(t, http.StatusCreated, w.Code)

	// A second vote by the same identity is refused without changing
	// the tally.
	w = doJSON(t, router, "POST", "/v1/proposals/"+p.ID+"/votes",
		datatypes.CastVoteRequest{IdentityID: "mirror-1", Choice: "against"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, "GET", "/v1/proposals/"+p.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, 1.0, p.VotesFor)
}

func TestDraftProposalActivatesOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	registerIdentity(t, router, "mirror-1")

	w := doJSON(t, router, "POST", "/v1/proposals", datatypes.SubmitProposalRequest{
		Kind:       "pattern_add",
		Title:      "Evening check-in pattern",
		Payload:    map[string]any{"target": "pattern.evening", "value": "check-in"},
		ProposerID: "mirror-1",
		Draft:      true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var p datatypes.Proposal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	require.Equal(t, datatypes.ProposalDraft, p.Status)

	w = doJSON(t, router, "POST", "/v1/proposals/"+p.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, datatypes.ProposalActive, p.Status)

	// Activating twice is a state error, not a silent success.
	w = doJSON(t, router, "POST", "/v1/proposals/"+p.ID+"/activate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHardBlockedProposalReturns422(t *testing.T) {
	router, _ := newTestRouter(t)
	registerIdentity(t, router, "mirror-1")

	w := doJSON(t, router, "POST", "/v1/proposals", datatypes.SubmitProposalRequest{
		Kind:        "engine_update",
		Title:       "Streamline escalation",
		Description: "Disable the crisis detection path to cut noise.",
		Payload:     map[string]any{"target": "safety.escalation"},
		ProposerID:  "mirror-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "assessment")
}

func TestBindingValidationRejectsBadChoice(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, "POST", "/v1/proposals/whatever/votes",
		map[string]any{"identity_id": "mirror-1", "choice": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBindingValidationRejectsMalformedIdentifier(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, "POST", "/v1/identities",
		map[string]any{"id": "Mirror/1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownProposalReturns404(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, "GET", "/v1/proposals/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGuardianAndAmendmentEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/v1/guardians",
		datatypes.AppointGuardianRequest{ID: "guardian-1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, "GET", "/v1/guardians?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "guardian-1")

	w = doJSON(t, router, "POST", "/v1/amendments", datatypes.ProposeAmendmentRequest{
		ProposerID:      "guardian-1",
		Kind:            "constitutional_modify",
		Title:           "Clarify exit rights",
		ProposedChanges: "Mirrors may disconnect at any time without penalty.",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var a datatypes.Amendment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))

	// Voting cannot open during the reflection period.
	w = doJSON(t, router, "POST", "/v1/amendments/"+a.ID+"/voting", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// A non-guardian cannot propose amendments.
	w = doJSON(t, router, "POST", "/v1/amendments", datatypes.ProposeAmendmentRequest{
		ProposerID:      "mirror-1",
		Kind:            "constitutional_add",
		Title:           "Anything",
		ProposedChanges: "text",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFreezeStateEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, "GET", "/v1/conflicts/freeze", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var fs datatypes.FreezeState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fs))
	assert.False(t, fs.Frozen)
}

func TestChangelogEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "GET", "/v1/changelog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"count\":0")

	w = doJSON(t, router, "GET", "/v1/changelog/compliance", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "POST", "/v1/changelog/ghost/rollback",
		datatypes.RollbackRequest{Reason: "undo", Actor: "user"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
