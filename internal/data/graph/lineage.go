package graph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/platform/neo4jdb"
)

// LineageProjector mirrors chats and their fork edges into neo4j:
//
//	(:User)-[:OWNS]->(:Chat)-[:FORKED_FROM]->(:Chat)
//
// Postgres stays the source of truth. A nil client turns every call into a no-op.
type LineageProjector struct {
	client     *neo4jdb.Client
	log        *logger.Logger
	schemaOnce sync.Once
}

func NewLineageProjector(client *neo4jdb.Client, baseLog *logger.Logger) *LineageProjector {
	return &LineageProjector{client: client, log: baseLog.With("graph", "ChatLineage")}
}

func (p *LineageProjector) enabled() bool {
	return p != nil && p.client != nil && p.client.Driver != nil
}

func (p *LineageProjector) ChatCreated(ctx context.Context, chat *domain.Chat) error {
	if !p.enabled() || chat == nil || chat.ID == uuid.Nil {
		return nil
	}
	return p.write(ctx, func(tx neo4j.ManagedTransaction) error {
		return run(ctx, tx, `
MERGE (u:User {id: $owner_id})
MERGE (c:Chat {id: $chat.id})
SET c += $chat
MERGE (u)-[o:OWNS]->(c)
SET o.synced_at = $chat.synced_at
`, map[string]any{"owner_id": chat.OwnerUserID.String(), "chat": chatNode(chat)})
	})
}

func (p *LineageProjector) ChatForked(ctx context.Context, parent *domain.Chat, child *domain.Chat) error {
	if !p.enabled() || parent == nil || child == nil || child.ID == uuid.Nil {
		return nil
	}
	return p.write(ctx, func(tx neo4j.ManagedTransaction) error {
		if err := run(ctx, tx, `
MERGE (u:User {id: $owner_id})
MERGE (c:Chat {id: $chat.id})
SET c += $chat
MERGE (u)-[o:OWNS]->(c)
SET o.synced_at = $chat.synced_at
`, map[string]any{"owner_id": child.OwnerUserID.String(), "chat": chatNode(child)}); err != nil {
			return err
		}
		return run(ctx, tx, `
MERGE (p:Chat {id: $parent_id})
ON CREATE SET p.owner_user_id = $parent_owner
WITH p
MATCH (c:Chat {id: $child_id})
MERGE (c)-[f:FORKED_FROM]->(p)
SET f.forked_at = $forked_at
`, map[string]any{
			"parent_id":    parent.ID.String(),
			"parent_owner": parent.OwnerUserID.String(),
			"child_id":     child.ID.String(),
			"forked_at":    child.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	})
}

// ChatDeleted keeps the node so surviving forks retain their ancestry; it is
// only marked deleted.
func (p *LineageProjector) ChatDeleted(ctx context.Context, chatID uuid.UUID) error {
	if !p.enabled() || chatID == uuid.Nil {
		return nil
	}
	return p.write(ctx, func(tx neo4j.ManagedTransaction) error {
		return run(ctx, tx, `
MATCH (c:Chat {id: $chat_id})
SET c.deleted = true, c.deleted_at = $now
WITH c
OPTIONAL MATCH (:User)-[o:OWNS]->(c)
DELETE o
`, map[string]any{"chat_id": chatID.String(), "now": time.Now().UTC().Format(time.RFC3339Nano)})
	})
}

func (p *LineageProjector) write(ctx context.Context, fn func(tx neo4j.ManagedTransaction) error) error {
	session := p.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: p.client.Database,
	})
	defer session.Close(ctx)

	p.schemaOnce.Do(func() { p.ensureSchema(ctx, session) })

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	return err
}

// Best-effort schema init.
func (p *LineageProjector) ensureSchema(ctx context.Context, session neo4j.SessionWithContext) {
	stmts := []string{
		`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
		`CREATE CONSTRAINT chat_id_unique IF NOT EXISTS FOR (c:Chat) REQUIRE c.id IS UNIQUE`,
	}
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			p.log.Warn("neo4j schema init failed (continuing)", "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

func run(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) error {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func chatNode(c *domain.Chat) map[string]any {
	parentID := ""
	if c.ParentChatID != nil && *c.ParentChatID != uuid.Nil {
		parentID = c.ParentChatID.String()
	}
	return map[string]any{
		"id":             c.ID.String(),
		"owner_user_id":  c.OwnerUserID.String(),
		"is_branch":      c.IsBranch,
		"parent_chat_id": parentID,
		"created_at":     c.CreatedAt.UTC().Format(time.RFC3339Nano),
		"synced_at":      time.Now().UTC().Format(time.RFC3339Nano),
	}
}
