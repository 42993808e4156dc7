// Command review prints notifications that were verified but could not be tied to an
// owner, so an operator can credit them by hand.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"tally/internal/config"
	"tally/internal/infrastructure"
)

func main() {
	limit := flag.Int("limit", 50, "maximum records to print")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := infrastructure.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Storage error: %v", err)
	}
	defer store.Close()

	reviews, err := store.ListReviews(ctx, *limit)
	if err != nil {
		log.Fatalf("List reviews: %v", err)
	}
	if len(reviews) == 0 {
		fmt.Println("No notifications awaiting review")
		return
	}

	enc := json.NewEncoder(os.Stdout)
	for _, r := range reviews {
		if err := enc.Encode(r); err != nil {
			log.Fatalf("Encode: %v", err)
		}
	}
}
