package store

import "testing"

func TestInsertAndGetBlob(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertBlob("abc123", 1024, "ab/c1/abc123"); err != nil {
		t.Fatalf("InsertBlob: %v", err)
	}

	rec, err := s.GetBlob("abc123")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if rec.SizeBytes != 1024 {
		t.Errorf("SizeBytes = %d, want 1024", rec.SizeBytes)
	}
	if rec.RefCount != 1 {
		t.Errorf("RefCount = %d, want 1", rec.RefCount)
	}
	if rec.Quarantined {
		t.Errorf("expected not quarantined")
	}
	if rec.ScanStatus != "pending" {
		t.Errorf("ScanStatus = %q, want pending", rec.ScanStatus)
	}
}

func TestInsertBlobDuplicate(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertBlob("abc123", 1024, "ab/c1/abc123"); err != nil {
		t.Fatalf("InsertBlob: %v", err)
	}
	if err := s.InsertBlob("abc123", 1024, "ab/c1/abc123"); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetBlobNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetBlob("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncDecRefBlob(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertBlob("abc123", 1024, "ab/c1/abc123"); err != nil {
		t.Fatalf("InsertBlob: %v", err)
	}
	if err := s.IncRefBlob("abc123"); err != nil {
		t.Fatalf("IncRefBlob: %v", err)
	}
	rec, err := s.GetBlob("abc123")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if rec.RefCount != 2 {
		t.Errorf("RefCount = %d, want 2", rec.RefCount)
	}

	if err := s.DecRefBlob("abc123"); err != nil {
		t.Fatalf("DecRefBlob: %v", err)
	}
	if err := s.DecRefBlob("abc123"); err != nil {
		t.Fatalf("DecRefBlob: %v", err)
	}
	if err := s.DecRefBlob("abc123"); err != nil {
		t.Fatalf("DecRefBlob should floor at zero, not error: %v", err)
	}
	rec, err = s.GetBlob("abc123")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if rec.RefCount != 0 {
		t.Errorf("RefCount = %d, want 0 (floored)", rec.RefCount)
	}
}

func TestListOrphanBlobs(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertBlob("orphan1", 10, "path1"); err != nil {
		t.Fatalf("InsertBlob: %v", err)
	}
	if err := s.InsertBlob("referenced1", 10, "path2"); err != nil {
		t.Fatalf("InsertBlob: %v", err)
	}
	if err := s.DecRefBlob("orphan1"); err != nil {
		t.Fatalf("DecRefBlob: %v", err)
	}

	orphans, err := s.ListOrphanBlobs()
	if err != nil {
		t.Fatalf("ListOrphanBlobs: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != "orphan1" {
		t.Errorf("ListOrphanBlobs = %v, want [orphan1]", orphans)
	}
}

func TestQuarantineAndRestoreBlob(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertBlob("bad1", 10, "path1"); err != nil {
		t.Fatalf("InsertBlob: %v", err)
	}
	if err := s.QuarantineBlob("bad1", "zip bomb ratio exceeded"); err != nil {
		t.Fatalf("QuarantineBlob: %v", err)
	}

	rec, err := s.GetBlob("bad1")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if !rec.Quarantined {
		t.Errorf("expected quarantined")
	}
	if rec.ScanDetails == "" {
		t.Errorf("expected scan details to be recorded")
	}

	if err := s.RestoreBlobFromQuarantine("bad1"); err != nil {
		t.Fatalf("RestoreBlobFromQuarantine: %v", err)
	}
	rec, err = s.GetBlob("bad1")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if rec.Quarantined {
		t.Errorf("expected quarantine cleared")
	}
}

func TestDeleteBlob(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertBlob("gone1", 10, "path1"); err != nil {
		t.Fatalf("InsertBlob: %v", err)
	}
	if err := s.DeleteBlob("gone1"); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	if _, err := s.GetBlob("gone1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetBlobsByHashes(t *testing.T) {
	s := newTestStore(t)
	for _, h := range []string{"h1", "h2", "h3"} {
		if err := s.InsertBlob(h, 5, "p/"+h); err != nil {
			t.Fatalf("InsertBlob %s: %v", h, err)
		}
	}

	found, err := s.GetBlobsByHashes([]string{"h1", "h3", "missing"})
	if err != nil {
		t.Fatalf("GetBlobsByHashes: %v", err)
	}
	if len(found) != 2 {
		t.Errorf("found %d blobs, want 2", len(found))
	}
	if _, ok := found["h2"]; ok {
		t.Errorf("did not request h2 but it was returned")
	}
}
