package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"function-ticketing-platform/internal/config"
	"function-ticketing-platform/internal/database"
	"function-ticketing-platform/internal/logging"
	"function-ticketing-platform/internal/models"
	"function-ticketing-platform/internal/repositories"
)

func main() {
	var (
		id        = pflag.String("id", "", "Registration id")
		orderID   = pflag.String("order", "", "Payment provider order id")
		paymentID = pflag.String("payment", "", "Payment provider payment id")
	)
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Server.Env)
	ctx := context.Background()

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := repositories.NewRegistrationRepository(db.DB)

	var reg *models.Registration
	switch {
	case *id != "":
		reg, err = repo.GetRegistration(ctx, *id)
	case *orderID != "":
		reg, err = repo.FindByProviderOrderID(ctx, *orderID)
	case *paymentID != "":
		reg, err = repo.FindByPaymentID(ctx, *paymentID)
	default:
		fmt.Println("Usage: check-registration --id ID | --order ORDER_ID | --payment PAYMENT_ID")
		os.Exit(2)
	}
	if errors.Is(err, models.ErrRegistrationNotFound) {
		fmt.Println("Registration not found")
		os.Exit(1)
	}
	if err != nil {
		logger.Error("lookup failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Registration:   %s\n", reg.ID)
	fmt.Printf("Function:       %s\n", reg.FunctionID)
	fmt.Printf("Type:           %s\n", reg.Type)
	fmt.Printf("Status:         %s (payment %s)\n", reg.Status, reg.PaymentStatus)
	fmt.Printf("Confirmation:   %s\n", reg.GetConfirmationNumber())
	fmt.Printf("Contact:        %s <%s>\n", reg.ContactName, reg.ContactEmail)
	fmt.Printf("Provider order: %s\n", reg.ProviderOrderID)
	fmt.Printf("Payment:        %s\n", reg.PaymentID)
	fmt.Printf("Subtotal:       %s\n", reg.Subtotal.StringFixed(2))
	fmt.Printf("Total paid:     %s\n", reg.TotalAmountPaid.StringFixed(2))
	fmt.Printf("Attendees:      %d\n", len(reg.Attendees))
	for _, t := range reg.Tickets {
		pkg := ""
		if t.PackageID != "" {
			pkg = " (package " + t.PackageID + ")"
		}
		fmt.Printf("  ticket %s  attendee %s  %s  %s%s\n", t.ID, t.AttendeeID, t.CatalogItemID, t.PricePaid.StringFixed(2), pkg)
	}
}
