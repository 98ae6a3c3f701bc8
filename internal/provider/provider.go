package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// RoomProvider provisions an opaque room at an external calling backend.
//
// Rules:
// - No provider SDK calls outside provider adapters.
// - The core stores and relays the returned identifiers as strings; it
//   performs no media or signaling protocol work itself.
type RoomProvider interface {
	Name() string
	CreateRoom(ctx context.Context) (Room, error)
}

// Room is the provider-agnostic handle for one provisioned room.
type Room struct {
	RoomID  string `json:"room_id"`
	JoinURL string `json:"join_url"`
}

// StaticProvider issues rooms addressed by fresh ids under a fixed URL
// template. It suits self-hosted backends (jitsi-style) where presenting a
// unique room URL is all the provisioning there is.
type StaticProvider struct {
	tag         string
	urlTemplate string
}

// NewStaticProvider builds a StaticProvider.
// urlTemplate must contain a single %s placeholder for the room id.
func NewStaticProvider(tag, urlTemplate string) (*StaticProvider, error) {
	if tag == "" {
		return nil, errors.New("provider tag is required")
	}
	if urlTemplate == "" {
		return nil, errors.New("url template is required")
	}
	return &StaticProvider{tag: tag, urlTemplate: urlTemplate}, nil
}

func (p *StaticProvider) Name() string { return p.tag }

func (p *StaticProvider) CreateRoom(ctx context.Context) (Room, error) {
	id := uuid.NewString()
	return Room{
		RoomID:  id,
		JoinURL: fmt.Sprintf(p.urlTemplate, id),
	}, nil
}
