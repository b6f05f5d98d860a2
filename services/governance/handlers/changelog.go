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
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCommons/services/governance/changelog"
	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

// GetHistory returns behavior change log entries, newest first.
// Filters: ?type=, ?proposal_id=, ?identity_id=, ?limit=.
func GetHistory(log *changelog.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := datatypes.HistoryFilter{
			ProposalID: c.Query("proposal_id"),
			IdentityID: c.Query("identity_id"),
		}
		for _, t := range c.QueryArray("type") {
			filter.Types = append(filter.Types, datatypes.ChangeType(t))
		}
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			filter.Limit = n
		}
		entries, err := log.History(filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
	}
}

// GetLogChain returns an entry and its rollback ancestry.
func GetLogChain(log *changelog.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		chain, err := log.Chain(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"chain": chain})
	}
}

// RollbackEntry reverts a reversible logged change by appending a
// compensating entry.
func RollbackEntry(log *changelog.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RollbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		e, err := log.Rollback(c.Param("id"), datatypes.ActorClass(req.Actor), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, e)
	}
}

// GetComplianceReport summarizes governance activity over a period.
// ?start= and ?end= take RFC 3339 timestamps; the default is the last
// 30 days.
func GetComplianceReport(log *changelog.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		end := time.Now().UTC()
		start := end.Add(-30 * 24 * time.Hour)
		if raw := c.Query("start"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
				return
			}
			start = t
		}
		if raw := c.Query("end"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
				return
			}
			end = t
		}
		report, err := log.Compliance(start, end)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
