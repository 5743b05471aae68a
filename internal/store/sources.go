package store

import "fmt"

// InsertSource registers a new ingestion source (mailbox, mbox file, etc)
// and returns its generated id.
func (s *Store) InsertSource(label string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO sources (label) VALUES (?)`, label)
	if err != nil {
		return 0, fmt.Errorf("insert source %q: %w", label, err)
	}
	return res.LastInsertId()
}

// ListSources returns every registered source label and id.
func (s *Store) ListSources() (map[int64]string, error) {
	rows, err := s.db.Query(`SELECT id, label FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, err
		}
		out[id] = label
	}
	return out, rows.Err()
}
