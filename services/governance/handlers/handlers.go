// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the gin handlers for the governance API.
//
// Handlers stay thin: bind the request, call one pipeline or component
// method, translate the typed error. Every governance rule lives below
// this package.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError translates the governance error taxonomy to HTTP.
//
// Hard blocks, conflicts, and integrity freezes carry their full
// payload so a client can present the refusal rather than a bare
// status code.
func respondError(c *gin.Context, err error) {
	var (
		ve *datatypes.ValidationError
		hb *datatypes.HardBlockError
		ce *datatypes.ConflictError
		ie *datatypes.IntegrityError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.As(err, &hb):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      hb.Error(),
			"assessment": hb.Assessment,
		})
	case errors.As(err, &ce):
		c.JSON(http.StatusConflict, gin.H{
			"error":    ce.Error(),
			"conflict": ce.Conflict,
		})
	case errors.As(err, &ie):
		c.JSON(http.StatusLocked, gin.H{
			"error":  ie.Error(),
			"report": ie.Report,
		})
	case errors.Is(err, datatypes.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, datatypes.ErrAlreadyVoted),
		errors.Is(err, datatypes.ErrVotingClosed),
		errors.Is(err, datatypes.ErrWrongState),
		errors.Is(err, datatypes.ErrReflectionActive),
		errors.Is(err, datatypes.ErrSupermajorityNotReached),
		errors.Is(err, datatypes.ErrNotReversible):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, datatypes.ErrSubsystemFrozen):
		c.JSON(http.StatusLocked, gin.H{"error": err.Error()})
	case errors.Is(err, datatypes.ErrGuardianRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, datatypes.ErrInvalidRollout):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("governance request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
