// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
	"github.com/AleutianAI/AleutianCommons/services/governance/evolution"
	badgerstore "github.com/AleutianAI/AleutianCommons/services/governance/storage/badger"
)

// CreateVersion bundles approved proposals into a staged ruleset
// version.
func CreateVersion(engine *evolution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateVersionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		slog.Info("Received version creation request",
			"semver", req.SemVer, "proposals", len(req.ProposalIDs))

		v, err := engine.CreateVersion(c.Request.Context(), req.SemVer,
			req.Description, req.ProposalIDs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, v)
	}
}

// RolloutVersion advances a version through the staged rollout
// percentages.
func RolloutVersion(engine *evolution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RolloutVersionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		v, err := engine.Rollout(c.Request.Context(), c.Param("id"), req.Percent)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

// GetActiveVersion returns the fully rolled-out ruleset version.
func GetActiveVersion(engine *evolution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := engine.ActiveVersion(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

// ListVersions returns every ruleset version, newest first.
func ListVersions(store *badgerstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := store.ListVersions()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"versions": list, "count": len(list)})
	}
}
