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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCommons/services/governance"
	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
	badgerstore "github.com/AleutianAI/AleutianCommons/services/governance/storage/badger"
)

// RegisterIdentity adds a mirror identity to the commons.
func RegisterIdentity(pl *governance.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RegisterIdentityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		ident := &datatypes.MirrorIdentity{
			ID:          req.ID,
			DisplayName: req.DisplayName,
			Funded:      req.Funded,
		}
		if err := pl.RegisterIdentity(ident); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, ident)
	}
}

// GetIdentity returns one identity by ID.
func GetIdentity(store *badgerstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := store.GetIdentity(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ident)
	}
}

// ListIdentities returns every registered identity.
func ListIdentities(store *badgerstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := store.ListIdentities()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"identities": list, "count": len(list)})
	}
}

// RecordReflection increments an identity's reflection count.
func RecordReflection(pl *governance.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := pl.RecordReflection(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"identity_id": c.Param("id"), "reflection_count": n})
	}
}
