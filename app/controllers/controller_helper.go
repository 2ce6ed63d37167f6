package controllers

import (
	"github.com/go-playground/validator/v10"

	"github.com/FelixBrandt/FocusTape/internal/pkg/billing"
	"github.com/FelixBrandt/FocusTape/internal/pkg/directory"
	"github.com/FelixBrandt/FocusTape/internal/pkg/viewtracker"
)

// Package-level dependencies, wired once at startup.
var (
	billingService *billing.Service
	billingRepo    billing.Repository
	sweeper        *billing.Sweeper
	tracker        *viewtracker.Tracker
	dirClient      directory.Client

	validate = validator.New()
)

// Setup injects the shared services the handlers in this package use.
func Setup(service *billing.Service, repo billing.Repository, sw *billing.Sweeper, tr *viewtracker.Tracker, dir directory.Client) {
	billingService = service
	billingRepo = repo
	sweeper = sw
	tracker = tr
	dirClient = dir
}
