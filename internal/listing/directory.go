// Package listing is the boundary to the listing catalog service. The
// messaging core does not own listing data; it only asks who the
// landlord of a listing is when seeding a new conversation.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownListing = errors.New("unknown listing")

type Directory interface {
	// OwnerOf returns the user id of the landlord owning listingID.
	OwnerOf(ctx context.Context, listingID uuid.UUID) (string, error)
}

type httpDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDirectory(baseURL string) Directory {
	return &httpDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (d *httpDirectory) OwnerOf(ctx context.Context, listingID uuid.UUID) (string, error) {
	url := fmt.Sprintf("%s/internal/listings/%s/owner", d.baseURL, listingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrUnknownListing
	default:
		return "", fmt.Errorf("listing service returned %d", resp.StatusCode)
	}

	var payload struct {
		LandlordID string `json:"landlordId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.LandlordID == "" {
		return "", fmt.Errorf("listing %s has no landlord", listingID)
	}
	return payload.LandlordID, nil
}
