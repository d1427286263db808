package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/playout/internal/model"
)

func (s *pgStore) UpsertPlugin(ctx context.Context, p model.Plugin) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO plugins (instancename, pluginname, type, status)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (instancename) DO UPDATE
	   SET pluginname = EXCLUDED.pluginname, type = EXCLUDED.type, status = EXCLUDED.status;`,
		p.InstanceName, p.PluginName, p.Type, p.Status)
	if err != nil {
		log.Error().Err(err).Str("plugin", p.InstanceName).Msg("[db] UpsertPlugin failed")
	}
	return err
}

func (s *pgStore) ListPlugins(ctx context.Context) ([]model.Plugin, error) {
	var out []model.Plugin
	if err := s.db.SelectContext(ctx, &out,
		`SELECT instancename, pluginname, type, status FROM plugins ORDER BY instancename;`); err != nil {
		log.Error().Err(err).Msg("[db] ListPlugins failed")
		return nil, err
	}
	return out, nil
}

func (s *pgStore) GetPlugin(ctx context.Context, name string) (*model.Plugin, error) {
	var p model.Plugin
	err := s.db.GetContext(ctx, &p,
		`SELECT instancename, pluginname, type, status FROM plugins WHERE instancename = $1;`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
