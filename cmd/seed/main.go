package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"csms/internal/config"
	"csms/internal/db"
	"csms/internal/models"
	"csms/internal/repo"
	"csms/internal/security"
)

func main() {
	id := flag.String("id", "CS-001", "device id")
	name := flag.String("name", "Dev Station", "device display name")
	secret := flag.String("secret", "devsecret", "shared secret (stored hashed)")
	active := flag.Bool("active", true, "mark device active")
	vendor := flag.String("vendor", "ABB", "vendor")
	model := flag.String("model", "Terra54", "model")
	sockets := flag.Int("sockets", 2, "number of sockets")
	connectorRating := flag.Float64("connector_rating", 22, "connector rating in kW")
	speedRating := flag.Float64("speed_rating", 22, "charge speed rating in kW")
	unitPrice := flag.Float64("unit_price", 0, "optional unit price for an active tariff")
	currency := flag.String("currency", "EUR", "tariff currency")
	payerID := flag.String("payer", "", "optional payer id to seed")
	payerURL := flag.String("payer_url", "http://localhost:9090/bills", "payer notification endpoint")
	payerCred := flag.String("payer_cred", "", "payer bearer credential")
	flag.Parse()

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()

	devices := repo.NewDevicesRepo(d.Pool)
	tariffs := repo.NewTariffsRepo(d.Pool)
	payers := repo.NewPayersRepo(d.Pool)

	err = devices.Upsert(ctx, models.Device{
		DeviceID:   *id,
		Name:       *name,
		SecretHash: security.HashSecret(*secret),
		IsActive:   *active,
		Vendor:     *vendor,
		Model:      *model,
	})
	if err != nil {
		log.Fatal(err)
	}
	for i := 0; i < *sockets; i++ {
		err = devices.UpsertSocket(ctx, models.SocketDef{
			DeviceID:        *id,
			SocketID:        i,
			ConnectorRating: *connectorRating,
			SpeedRating:     *speedRating,
		})
		if err != nil {
			log.Fatal(err)
		}
	}

	if *unitPrice > 0 {
		if _, err := tariffs.UpsertActiveForDevice(ctx, *id, *unitPrice, *currency); err != nil {
			log.Fatal(err)
		}
	}
	if *payerID != "" {
		err = payers.Upsert(ctx, models.Payer{
			PayerID:    *payerID,
			NotifyURL:  *payerURL,
			Credential: *payerCred,
		})
		if err != nil {
			log.Fatal(err)
		}
	}

	fmt.Println("Seeded device:", *id, "sockets=", *sockets, "active=", *active)
}
