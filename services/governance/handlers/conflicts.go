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

	"github.com/AleutianAI/AleutianCommons/services/governance"
	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

// GetFreezeState reports whether the evolution subsystem is frozen and,
// if so, on which conflict.
func GetFreezeState(pl *governance.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		fs, err := pl.Freeze()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, fs)
	}
}

// ResolveConflict clears a freeze with an explicit user decision.
func ResolveConflict(pl *governance.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ResolveConflictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		slog.Info("Received conflict resolution",
			"choice", req.Choice, "actor", req.Actor)

		resolved, err := pl.ResolveConflict(datatypes.ConflictChoice(req.Choice), req.Actor)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"resolved": resolved})
	}
}
