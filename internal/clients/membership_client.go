package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"fidelya/internal/httpapi"
	"fidelya/internal/membership"

	"github.com/google/uuid"
)

// MembershipClient calls the membership service over HTTP.
type MembershipClient struct {
	baseURL string
	client  *http.Client
}

func NewMembershipClient(baseURL string) *MembershipClient {
	return &MembershipClient{baseURL: baseURL, client: http.DefaultClient}
}

// GetSocio fetches a socio by id, unwrapping the response envelope.
func (c *MembershipClient) GetSocio(ctx context.Context, id uuid.UUID) (*membership.Socio, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/socios/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var env httpapi.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("membership service error: %s", env.Error)
	}

	data, err := json.Marshal(env.Data)
	if err != nil {
		return nil, err
	}
	var socio membership.Socio
	if err := json.Unmarshal(data, &socio); err != nil {
		return nil, err
	}
	return &socio, nil
}
