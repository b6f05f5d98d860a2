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
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianCommons/pkg/validation"
	"github.com/AleutianAI/AleutianCommons/services/governance"
	"github.com/AleutianAI/AleutianCommons/services/governance/handlers"
)

func init() {
	// The "identifier" binding tag enforces the store-key identifier
	// format on mirror and guardian IDs at the HTTP boundary.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return validation.ValidateIdentifier(fl.Field().String()) == nil
		})
	}
}

// SetupRoutes mounts the governance API on router.
func SetupRoutes(router *gin.Engine, svc *governance.Service, gatherer prometheus.Gatherer) {

	router.GET("/health", handlers.HealthCheck)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		proposals := v1.Group("/proposals")
		{
			proposals.POST("", handlers.SubmitProposal(svc.Pipeline))
			proposals.GET("", handlers.ListProposals(svc.Engine))
			proposals.GET("/:id", handlers.GetProposal(svc.Engine))
			proposals.POST("/:id/activate", handlers.ActivateProposal(svc.Pipeline))
			proposals.POST("/:id/votes", handlers.CastVote(svc.Pipeline))
			proposals.POST("/:id/finalize", handlers.FinalizeProposal(svc.Pipeline))
			proposals.POST("/:id/veto", handlers.VetoProposal(svc.Pipeline))
			proposals.GET("/:id/integrity", handlers.GetIntegrityReport(svc.Checker))
		}

		versions := v1.Group("/versions")
		{
			versions.POST("", handlers.CreateVersion(svc.Engine))
			versions.GET("", handlers.ListVersions(svc.Store))
			versions.GET("/active", handlers.GetActiveVersion(svc.Engine))
			versions.POST("/:id/rollout", handlers.RolloutVersion(svc.Engine))
		}

		amendments := v1.Group("/amendments")
		{
			amendments.POST("", handlers.ProposeAmendment(svc.Protocol))
			amendments.GET("/:id", handlers.GetAmendment(svc.Protocol))
			amendments.POST("/:id/voting", handlers.StartAmendmentVoting(svc.Protocol))
			amendments.POST("/:id/votes", handlers.CastAmendmentVote(svc.Protocol))
			amendments.POST("/:id/finalize", handlers.FinalizeAmendment(svc.Protocol))
			amendments.POST("/:id/veto", handlers.VetoAmendment(svc.Protocol))
			amendments.POST("/:id/implement", handlers.ImplementAmendment(svc.Protocol))
		}

		guardians := v1.Group("/guardians")
		{
			guardians.POST("", handlers.AppointGuardian(svc.Protocol))
			guardians.GET("", handlers.ListGuardians(svc.Protocol))
			guardians.POST("/:id/confirm", handlers.ConfirmGuardian(svc.Protocol))
		}

		identities := v1.Group("/identities")
		{
			identities.POST("", handlers.RegisterIdentity(svc.Pipeline))
			identities.GET("", handlers.ListIdentities(svc.Store))
			identities.GET("/:id", handlers.GetIdentity(svc.Store))
			identities.POST("/:id/reflections", handlers.RecordReflection(svc.Pipeline))
		}

		v1.GET("/constitution", handlers.GetConstitution(svc.Protocol))
		v1.GET("/conflicts/freeze", handlers.GetFreezeState(svc.Pipeline))
		v1.POST("/conflicts/resolve", handlers.ResolveConflict(svc.Pipeline))

		changelogGroup := v1.Group("/changelog")
		{
			changelogGroup.GET("", handlers.GetHistory(svc.Log))
			changelogGroup.GET("/compliance", handlers.GetComplianceReport(svc.Log))
			changelogGroup.GET("/:id/chain", handlers.GetLogChain(svc.Log))
			changelogGroup.POST("/:id/rollback", handlers.RollbackEntry(svc.Log))
		}
	}
}
