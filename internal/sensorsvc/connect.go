package sensorsvc

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Config describes one Postgres-backed service.
type Config struct {
	ID          string
	Label       string
	DatabaseURL string
	Schema      string
}

// Connect opens the configured services. Services sharing a database URL
// share a pool. The returned func closes every pool.
func Connect(ctx context.Context, cfgs []Config) (*Directory, func(), error) {
	pools := make(map[string]*pgxpool.Pool)
	closeAll := func() {
		for _, p := range pools {
			p.Close()
		}
	}

	services := make([]Service, 0, len(cfgs))
	for _, c := range cfgs {
		backing, err := BackingStoreFromURL(c.DatabaseURL, c.Schema)
		if err != nil {
			closeAll()
			return nil, nil, eris.Wrapf(err, "sensorsvc: service %s", c.ID)
		}
		pool, ok := pools[c.DatabaseURL]
		if !ok {
			pool, err = pgxpool.New(ctx, c.DatabaseURL)
			if err != nil {
				closeAll()
				return nil, nil, eris.Wrapf(err, "sensorsvc: connect service %s", c.ID)
			}
			pools[c.DatabaseURL] = pool
		}
		services = append(services, NewPostgresService(c.ID, c.Label, c.Schema, backing, pool))
	}
	return NewDirectory(services...), closeAll, nil
}
