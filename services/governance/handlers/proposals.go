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
	"github.com/AleutianAI/AleutianCommons/services/governance/evolution"
	"github.com/AleutianAI/AleutianCommons/services/governance/integrity"
)

// SubmitProposal runs a proposed change through the full admission
// pipeline and opens voting on it.
func SubmitProposal(pl *governance.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SubmitProposalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		origin := datatypes.Origin(req.Origin)
		if origin == "" {
			origin = datatypes.OriginLocal
		}
		slog.Info("Received proposal submission",
			"kind", req.Kind, "proposer", req.ProposerID, "origin", origin,
			"draft", req.Draft)

		submit := pl.SubmitProposal
		if req.Draft {
			submit = pl.SubmitDraft
		}
		p, err := submit(c.Request.Context(),
			datatypes.ChangeKind(req.Kind), req.Title, req.Description,
			req.ProposerID, origin, req.Payload)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

// ActivateProposal opens voting on a draft proposal.
func ActivateProposal(pl *governance.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := pl.ActivateProposal(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// GetProposal returns one proposal by ID.
func GetProposal(engine *evolution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := engine.GetProposal(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// ListProposals returns proposals, optionally filtered with
// ?status=active (repeatable).
func ListProposals(engine *evolution.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var statuses []datatypes.ProposalStatus
		for _, s := range c.QueryArray("status") {
			statuses = append(statuses, datatypes.ProposalStatus(s))
		}
		list, err := engine.ListProposals(c.Request.Context(), statuses...)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"proposals": list, "count": len(list)})
	}
}

// CastVote records one weighted vote on a proposal.
func CastVote(pl *governance.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CastVoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		v, err := pl.CastVote(c.Request.Context(), c.Param("id"),
			req.IdentityID, datatypes.VoteChoice(req.Choice), req.Reasoning)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, v)
	}
}

// FinalizeProposal settles a proposal whose voting window has closed.
func FinalizeProposal(pl *governance.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := pl.FinalizeProposal(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"proposal": res.Proposal, "decided": res.Decided})
	}
}

// VetoProposal withdraws a pending or active proposal on critic
// authority.
func VetoProposal(pl *governance.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.VetoProposalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		p, err := pl.VetoProposal(c.Request.Context(), c.Param("id"), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// GetIntegrityReport runs the voting-integrity analysis for a proposal
// without settling it.
func GetIntegrityReport(checker *integrity.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := checker.CheckProposal(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
