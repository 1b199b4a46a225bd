package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/suifx/faucet/internal/clients"
	"github.com/suifx/faucet/internal/errcode"
	"github.com/suifx/faucet/internal/store"
)

type registerClientBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	HomepageURL string `json:"homepageUrl"`
	CallbackURL string `json:"callbackUrl"`
}

// createdClient is the one response that ever carries the API key.
type createdClient struct {
	ClientID    string    `json:"clientId"`
	APIKey      string    `json:"apiKey"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	HomepageURL string    `json:"homepageUrl,omitempty"`
	CallbackURL string    `json:"callbackUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// publicClient is the credential-free view served to anyone who knows the
// client ID.
type publicClient struct {
	ClientID    string    `json:"clientId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	HomepageURL string    `json:"homepageUrl,omitempty"`
	CallbackURL string    `json:"callbackUrl,omitempty"`
	IsActive    bool      `json:"isActive"`
	UsageCount  int64     `json:"usageCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

func publicView(c *store.APIClient) publicClient {
	return publicClient{
		ClientID:    c.ClientID,
		Name:        c.Name,
		Description: c.Description,
		HomepageURL: c.HomepageURL,
		CallbackURL: c.CallbackURL,
		IsActive:    c.IsActive,
		UsageCount:  c.UsageCount,
		CreatedAt:   c.CreatedAt,
	}
}

// ClientRegisterHandler creates an API client. Registration is open; the
// issued key is returned here and never again.
func ClientRegisterHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body registerClientBody
		if !decodeBody(w, r, &body) {
			return
		}

		client, err := d.Clients.Register(r.Context(), clients.NewClient{
			Name:        body.Name,
			Description: body.Description,
			HomepageURL: body.HomepageURL,
			CallbackURL: body.CallbackURL,
		})
		if err != nil {
			if errors.Is(err, clients.ErrInvalidRegistration) {
				respondError(w, errcode.ValidationError, "Invalid registration", err.Error())
				return
			}
			respondError(w, errcode.ServerError, "Failed to register client", "")
			return
		}

		respond(w, http.StatusCreated, "Client registered. Store the API key now; it cannot be retrieved again.", createdClient{
			ClientID:    client.ClientID,
			APIKey:      client.APIKey,
			Name:        client.Name,
			Description: client.Description,
			HomepageURL: client.HomepageURL,
			CallbackURL: client.CallbackURL,
			CreatedAt:   client.CreatedAt,
		})
	}
}

// ClientGetHandler serves the public view of one client.
func ClientGetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := chi.URLParam(r, "clientId")

		client, err := d.Clients.Get(r.Context(), clientID)
		if err != nil {
			respondError(w, errcode.DatabaseError, "Failed to look up client", "")
			return
		}
		if client == nil {
			respondError(w, errcode.NotFound, "Client not found", "")
			return
		}

		respond(w, http.StatusOK, "", publicView(client))
	}
}
