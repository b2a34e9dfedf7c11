// Package lifecycle declares the structured events the lobby/match lifecycle
// controller publishes.
package lifecycle

import (
	"context"

	"github.com/Skriptersz/agariogambling/logging"
)

const (
	EventLobbyJoinFailed  logging.EventType = "lifecycle.lobby_join_failed"
	EventLobbyJoined      logging.EventType = "lifecycle.lobby_joined"
	EventLobbyLeft        logging.EventType = "lifecycle.lobby_left"
	EventMatchPromoted    logging.EventType = "lifecycle.match_promoted"
	EventMatchCompleted   logging.EventType = "lifecycle.match_completed"
	EventMatchAborted     logging.EventType = "lifecycle.match_aborted"
	EventRecoveryRefunded logging.EventType = "lifecycle.recovery_refunded"
)

type LobbyJoinFailedPayload struct {
	LobbyID   string `json:"lobbyId"`
	AccountID string `json:"accountId"`
	Reason    string `json:"reason"`
}

type LobbyJoinedPayload struct {
	LobbyID   string `json:"lobbyId"`
	AccountID string `json:"accountId"`
	Members   int    `json:"members"`
}

type LobbyLeftPayload struct {
	LobbyID   string `json:"lobbyId"`
	AccountID string `json:"accountId"`
}

type MatchPromotedPayload struct {
	LobbyID string `json:"lobbyId"`
	MatchID string `json:"matchId"`
	Commit  string `json:"commit"`
	PotCts  int64  `json:"potCents"`
}

type MatchCompletedPayload struct {
	MatchID string `json:"matchId"`
}

type MatchAbortedPayload struct {
	MatchID string `json:"matchId"`
	Reason  string `json:"reason"`
}

type RecoveryRefundedPayload struct {
	MatchID string `json:"matchId"`
	Members int    `json:"members"`
}

func lobby(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindLobby}
}

func match(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindMatch}
}

func LobbyJoinFailed(ctx context.Context, pub logging.Publisher, payload LobbyJoinFailedPayload) {
	publishActor(ctx, pub, EventLobbyJoinFailed, lobby(payload.LobbyID), logging.SeverityWarn, payload)
}

func LobbyJoined(ctx context.Context, pub logging.Publisher, payload LobbyJoinedPayload) {
	publishActor(ctx, pub, EventLobbyJoined, lobby(payload.LobbyID), logging.SeverityInfo, payload)
}

func LobbyLeft(ctx context.Context, pub logging.Publisher, payload LobbyLeftPayload) {
	publishActor(ctx, pub, EventLobbyLeft, lobby(payload.LobbyID), logging.SeverityInfo, payload)
}

func MatchPromoted(ctx context.Context, pub logging.Publisher, payload MatchPromotedPayload) {
	publishActor(ctx, pub, EventMatchPromoted, match(payload.MatchID), logging.SeverityInfo, payload)
}

func MatchCompleted(ctx context.Context, pub logging.Publisher, payload MatchCompletedPayload) {
	publishActor(ctx, pub, EventMatchCompleted, match(payload.MatchID), logging.SeverityInfo, payload)
}

func MatchAborted(ctx context.Context, pub logging.Publisher, payload MatchAbortedPayload) {
	publishActor(ctx, pub, EventMatchAborted, match(payload.MatchID), logging.SeverityError, payload)
}

func RecoveryRefunded(ctx context.Context, pub logging.Publisher, payload RecoveryRefundedPayload) {
	publishActor(ctx, pub, EventRecoveryRefunded, match(payload.MatchID), logging.SeverityWarn, payload)
}

func publishActor(ctx context.Context, pub logging.Publisher, t logging.EventType, actor logging.EntityRef, sev logging.Severity, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     t,
		Actor:    actor,
		Severity: sev,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}
