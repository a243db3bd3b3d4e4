package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"efileflow/internal/db"
)

// Event types appended by the engine.
const (
	TypeFileCreated      = "file.created"
	TypeFileMarked       = "file.marked"
	TypeFileReturned     = "file.returned"
	TypeTATStarted       = "file.tat_started"
	TypeWorkflowUpdated  = "workflow.updated"
	TypeSignatureAdded   = "signature.added"
	TypeSignatureRevoked = "signature.revoked"
	TypeUserUpserted     = "user.upserted"
	TypeTeamLinked       = "team.linked"
	TypeTeamUnlinked     = "team.unlinked"
	TypeAPIKeyCreated    = "api_key.created"
	TypeRoleGranted      = "role.granted"
	TypeRoleRevoked      = "role.revoked"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append writes one audit event inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, fileID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, db.Rebind(w.Dialect, `INSERT INTO events(ts,type,file_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, nullable(fileID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
