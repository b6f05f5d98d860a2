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

	"github.com/AleutianAI/AleutianCommons/services/governance/amendment"
	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

// ProposeAmendment opens a constitutional amendment in its reflection
// period.
func ProposeAmendment(protocol *amendment.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ProposeAmendmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		slog.Info("Received amendment proposal",
			"proposer", req.ProposerID, "kind", req.Kind)

		a, err := protocol.Propose(req.ProposerID, datatypes.ChangeKind(req.Kind),
			req.Title, req.Description, req.ProposedChanges)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, a)
	}
}

// GetAmendment returns one amendment by ID.
func GetAmendment(protocol *amendment.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := protocol.Get(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// StartAmendmentVoting moves an amendment from reflection to voting
// once its reflection period has elapsed.
func StartAmendmentVoting(protocol *amendment.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := protocol.StartVoting(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// CastAmendmentVote records one guardian vote.
func CastAmendmentVote(protocol *amendment.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AmendmentVoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		v, err := protocol.CastVote(c.Param("id"), req.GuardianID,
			datatypes.VoteChoice(req.Choice), req.Reasoning)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, v)
	}
}

// FinalizeAmendment settles an amendment after its voting deadline.
func FinalizeAmendment(protocol *amendment.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := protocol.Finalize(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// VetoAmendment lets a guardian stop an amendment before implementation.
func VetoAmendment(protocol *amendment.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.VetoAmendmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		a, err := protocol.Veto(c.Param("id"), req.GuardianID, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// ImplementAmendment applies a passed amendment as a new constitution
// revision.
func ImplementAmendment(protocol *amendment.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		cv, err := protocol.Implement(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, cv)
	}
}

// GetConstitution returns the active constitution revision.
func GetConstitution(protocol *amendment.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		cv, err := protocol.Constitution()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, cv)
	}
}

// AppointGuardian nominates a guardian; depending on configuration the
// appointment may need confirmation by a second guardian.
func AppointGuardian(protocol *amendment.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AppointGuardianRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		g, err := protocol.AppointGuardian(req.ID, req.AppointedBy)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, g)
	}
}

// ConfirmGuardian confirms a pending guardian appointment.
func ConfirmGuardian(protocol *amendment.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ConfirmGuardianRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		g, err := protocol.ConfirmGuardian(c.Param("id"), req.ConfirmedBy)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, g)
	}
}

// ListGuardians returns guardians; ?active=true filters to active ones.
func ListGuardians(protocol *amendment.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := protocol.Guardians(c.Query("active") == "true")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"guardians": list, "count": len(list)})
	}
}
