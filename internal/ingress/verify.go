package ingress

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"

	"github.com/Skriptersz/agariogambling/internal/lifecycle"
	"github.com/Skriptersz/agariogambling/internal/match"
	"github.com/Skriptersz/agariogambling/internal/rng"
)

// Position is one reproduced coordinate in a verification response.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Reproduced carries the draws a third party can recompute from the
// revealed seed: initial spawn and pellet placements in draw order.
type Reproduced struct {
	SpawnPositions  []Position `json:"spawn_positions"`
	PelletPositions []Position `json:"pellet_positions"`
}

// VerifyResult is the full provably-fair disclosure for one ended match.
type VerifyResult struct {
	MatchID    string     `json:"match_id"`
	Commit     string     `json:"commit"`
	Seed       string     `json:"seed"`
	Nonce      string     `json:"nonce"`
	Algorithm  string     `json:"algorithm"`
	Verified   bool       `json:"verified"`
	Reproduced Reproduced `json:"reproduced"`
}

// Revealer is the slice of the lifecycle controller the verify surface
// needs; Reveal refuses until the match has ended.
type Revealer interface {
	Reveal(ctx context.Context, matchID string) (lifecycle.MatchRecord, error)
}

// VerifyMatch discloses an ended match's commitment material and replays
// its initial draws so any third party can confirm the arena layout was
// fixed before the first tick.
func VerifyMatch(ctx context.Context, rev Revealer, matchID string) (VerifyResult, error) {
	rec, err := rev.Reveal(ctx, matchID)
	if err != nil {
		return VerifyResult{}, err
	}
	seed, err := rng.DecodeSeed(rec.SeedHex)
	if err != nil {
		return VerifyResult{}, err
	}
	nonce, err := rng.DecodeNonce(rec.NonceHex)
	if err != nil {
		return VerifyResult{}, err
	}

	res := VerifyResult{
		MatchID:   rec.ID,
		Commit:    rec.Commit,
		Seed:      rec.SeedHex,
		Nonce:     rec.NonceHex,
		Algorithm: "SHA-256(seed || nonce)",
		Verified:  rng.Verify(seed[:], nonce[:], rec.Commit),
	}

	// Replay the spawn and pellet streams exactly as the match consumed
	// them at spawn: one disk point per member in join order, then the
	// initial pellet field.
	spawnStream := rng.NewStream(seed[:], "spawn")
	spawnRadius := rec.MapRadius * match.SpawnDiskFraction
	for range rec.Members {
		x, y := spawnStream.PointInDisk(spawnRadius)
		res.Reproduced.SpawnPositions = append(res.Reproduced.SpawnPositions, Position{X: x, Y: y})
	}
	pelletStream := rng.NewStream(seed[:], "pellets")
	for i := 0; i < match.PelletTarget; i++ {
		x, y := pelletStream.PointInDisk(rec.MapRadius)
		res.Reproduced.PelletPositions = append(res.Reproduced.PelletPositions, Position{X: x, Y: y})
	}
	return res, nil
}

// VerifyHandler serves VerifyMatch over HTTP: GET with a `match` query
// parameter. Still-running matches yield 409 so the seed never leaks early.
func VerifyHandler(rev Revealer) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		matchID := r.URL.Query().Get("match")
		if matchID == "" {
			nethttp.Error(w, "missing match", nethttp.StatusBadRequest)
			return
		}
		res, err := VerifyMatch(r.Context(), rev, matchID)
		switch {
		case errors.Is(err, lifecycle.ErrMatchRunning):
			nethttp.Error(w, "match has not ended", nethttp.StatusConflict)
			return
		case errors.Is(err, lifecycle.ErrMatchNotFound):
			nethttp.Error(w, "unknown match", nethttp.StatusNotFound)
			return
		case err != nil:
			nethttp.Error(w, "verification failed", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}
