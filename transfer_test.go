package memstore_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/matthewjhunter/memstore"
	_ "modernc.org/sqlite"
)

func openTransferTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExportEmpty(t *testing.T) {
	db := openTransferTestDB(t)
	facts, err := memstore.NewSQLiteFactStore(db)
	if err != nil {
		t.Fatal(err)
	}

	data, err := memstore.Export(context.Background(), facts)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if data.Version != 1 {
		t.Errorf("version = %d, want 1", data.Version)
	}
	if len(data.Facts) != 0 {
		t.Errorf("facts = %d, want 0", len(data.Facts))
	}
	if len(data.Links) != 0 {
		t.Errorf("links = %d, want 0", len(data.Links))
	}
	if data.ExportedAt.IsZero() {
		t.Error("expected non-zero ExportedAt")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	srcDB := openTransferTestDB(t)
	srcFacts, err := memstore.NewSQLiteFactStore(srcDB)
	if err != nil {
		t.Fatal(err)
	}

	alphaOld, err := srcFacts.Store(ctx, memstore.StoreInput{
		Text: "Matthew prefers dark mode", Entity: "matthew", Category: memstore.CategoryPreference,
	})
	if err != nil {
		t.Fatal(err)
	}
	alphaNew, err := srcFacts.Store(ctx, memstore.StoreInput{
		Text: "Matthew prefers light mode", Entity: "matthew", Category: memstore.CategoryPreference,
	})
	if err != nil {
		t.Fatal(err)
	}
	newID := alphaNew.ID
	if err := srcFacts.Supersede(ctx, alphaOld.ID, &newID, alphaNew.CreatedAt); err != nil {
		t.Fatal(err)
	}

	betaFact, err := srcFacts.Store(ctx, memstore.StoreInput{
		Text: "Service A depends on service B", Entity: "service-a", Category: memstore.CategoryFact,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := srcFacts.UpsertLink(ctx, memstore.Link{
		FromID: alphaNew.ID, ToID: betaFact.ID, Kind: memstore.LinkRelatedTo, Strength: 0.7,
	}); err != nil {
		t.Fatal(err)
	}

	data, err := memstore.Export(ctx, srcFacts)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(data.Facts) != 3 {
		t.Fatalf("exported %d facts, want 3", len(data.Facts))
	}
	if len(data.Links) != 1 {
		t.Fatalf("exported %d links, want 1", len(data.Links))
	}

	dstDB := openTransferTestDB(t)
	dstFacts, err := memstore.NewSQLiteFactStore(dstDB)
	if err != nil {
		t.Fatal(err)
	}

	result, err := memstore.Import(ctx, dstFacts, data, memstore.ImportOpts{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.FactsImported != 3 {
		t.Errorf("imported = %d, want 3", result.FactsImported)
	}
	if result.FactsSkipped != 0 {
		t.Errorf("skipped = %d, want 0", result.FactsSkipped)
	}
	if result.LinksImported != 1 {
		t.Errorf("links imported = %d, want 1", result.LinksImported)
	}

	matthewFacts, err := dstFacts.Lookup(ctx, "matthew", "", "", memstore.LookupOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(matthewFacts) != 1 {
		t.Fatalf("active matthew facts = %d, want 1 (supersession preserved)", len(matthewFacts))
	}
	if matthewFacts[0].Text != "Matthew prefers light mode" {
		t.Errorf("active content = %q, want %q", matthewFacts[0].Text, "Matthew prefers light mode")
	}

	oldGot, err := dstFacts.GetByID(ctx, alphaOld.ID, memstore.GetByIDOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if oldGot == nil {
		t.Fatal("superseded fact not found after import")
	}
	if oldGot.SupersededBy == nil || *oldGot.SupersededBy != alphaNew.ID {
		t.Errorf("supersession chain not preserved: SupersededBy = %v, want %s", oldGot.SupersededBy, alphaNew.ID)
	}

	neighbors, err := dstFacts.Neighbors(ctx, alphaNew.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 1 || neighbors[0].ToID != betaFact.ID {
		t.Errorf("link not preserved: neighbors = %+v", neighbors)
	}
}

func TestImportSkipExisting(t *testing.T) {
	ctx := context.Background()
	srcDB := openTransferTestDB(t)
	srcFacts, err := memstore.NewSQLiteFactStore(srcDB)
	if err != nil {
		t.Fatal(err)
	}
	f, err := srcFacts.Store(ctx, memstore.StoreInput{Text: "Duplicate fact", Entity: "x", Category: memstore.CategoryOther})
	if err != nil {
		t.Fatal(err)
	}
	data, err := memstore.Export(ctx, srcFacts)
	if err != nil {
		t.Fatal(err)
	}

	dstDB := openTransferTestDB(t)
	dstFacts, err := memstore.NewSQLiteFactStore(dstDB)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := memstore.Import(ctx, dstFacts, data, memstore.ImportOpts{}); err != nil {
		t.Fatal(err)
	}

	result, err := memstore.Import(ctx, dstFacts, data, memstore.ImportOpts{SkipExisting: true})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if result.FactsImported != 0 {
		t.Errorf("imported = %d, want 0 (already present)", result.FactsImported)
	}
	if result.FactsSkipped != 1 {
		t.Errorf("skipped = %d, want 1", result.FactsSkipped)
	}

	got, err := dstFacts.GetByID(ctx, f.ID, memstore.GetByIDOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("fact missing after skip-existing import")
	}
}

func TestImportRejectsUnsupportedVersion(t *testing.T) {
	dstDB := openTransferTestDB(t)
	dstFacts, err := memstore.NewSQLiteFactStore(dstDB)
	if err != nil {
		t.Fatal(err)
	}
	_, err = memstore.Import(context.Background(), dstFacts, &memstore.ExportData{Version: 99}, memstore.ImportOpts{})
	if err == nil {
		t.Fatal("expected error for unsupported export version")
	}
}
