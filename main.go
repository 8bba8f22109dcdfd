package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"portal-middleware/auth"
	"portal-middleware/config"
	"portal-middleware/flow"
	"portal-middleware/payments"
	"portal-middleware/routes"
	"portal-middleware/userdata"
)

func main() {
	conf, err := config.LoadConfigYaml()
	if err != nil {
		log.Fatalf("failed to load config: %v", err.Error())
	}

	ctx := context.Background()

	// http client shared by the token cache and both transports
	hc := &http.Client{
		Timeout: conf.HTTPTimeout(),
	}

	tokens := auth.NewTokenCache(conf.Token.URL, conf.TokenTTL(), hc)
	transport := flow.NewTransport(conf, tokens, hc)

	localUserID := ""
	if conf.IsLocal() {
		localUserID = conf.LocalDevUserID
	}
	bridge := flow.NewBridge(transport, localUserID)
	log.Printf("flows run in %v mode", conf.Mode)

	var journal userdata.Store
	if conf.PostgresEnabled() {
		store, err := userdata.NewPostgresStore(ctx, conf)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err.Error())
		}
		defer store.Close()
		journal = store
	} else {
		journal = userdata.NewMemoryStore()
	}

	srv := routes.NewServer(conf, bridge)
	srv.Journal = journal

	if conf.Stripe.SecretKey != "" {
		srv.Checkout = &payments.Checkout{
			Bridge:    bridge,
			Confirmer: payments.NewStripeConfirmer(conf.Stripe.SecretKey),
			Journal:   journal,
			Currency:  conf.Stripe.Currency,
		}
	} else {
		log.Printf("stripe secret key not set, checkout is disabled")
	}

	if conf.FusionAuthEnabled() {
		login, err := auth.NewLogin(conf.FusionAuth)
		if err != nil {
			log.Fatalf("failed to initialize fusionauth: %v", err.Error())
		}
		srv.Auth = login
	}

	if conf.IsLocal() && conf.TokenServer.Enabled {
		srv.Tokens = auth.NewTokenServer(ctx, conf.TokenServer)
	}

	err = srv.Router().Run(fmt.Sprintf("%v:%v", conf.Global.BindAddr, conf.Global.BindPort))
	if err != nil {
		log.Fatalf("failed to run server: %v", err.Error())
	}
}
