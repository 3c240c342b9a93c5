package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func textMsg(partition, id string, ts int64, body string) *Message {
	return &Message{
		PartitionKey: partition,
		MsgID:        id,
		Sender:       "a@x.com",
		Receiver:     "b@x.com",
		Body:         body,
		MessageType:  TypeText,
		Timestamp:    ts,
	}
}

func TestUpsertMessageReportsExisting(t *testing.T) {
	db := testDB(t)

	existed, err := db.UpsertMessage(textMsg("a_b", "m1", 10, "hi"))
	if err != nil {
		t.Fatalf("UpsertMessage() error = %v", err)
	}
	if existed {
		t.Error("first write reported as existing")
	}

	existed, err = db.UpsertMessage(textMsg("a_b", "m1", 10, "edited"))
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Error("overwrite not reported as existing")
	}

	msgs, err := db.ListMessages("a_b", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after overwrite, want 1", len(msgs))
	}
	if msgs[0].Body != "edited" {
		t.Errorf("body = %q, want %q", msgs[0].Body, "edited")
	}
}

func TestListMessagesOrderAndPagination(t *testing.T) {
	db := testDB(t)
	for _, m := range []*Message{
		textMsg("a_b", "m3", 30, "three"),
		textMsg("a_b", "m1", 10, "one"),
		textMsg("a_b", "m2", 20, "two"),
		textMsg("c_d", "m9", 5, "other partition"),
	} {
		if _, err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessages("a_b", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"m1", "m2", "m3"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, id := range want {
		if msgs[i].MsgID != id {
			t.Errorf("msgs[%d] = %s, want %s", i, msgs[i].MsgID, id)
		}
	}

	// Keyset pagination: only messages strictly after the cursor.
	msgs, err = db.ListMessages("a_b", 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].MsgID != "m2" {
		t.Errorf("after ts=10: got %v", msgs)
	}
}

func TestLatestMessage(t *testing.T) {
	db := testDB(t)

	latest, err := db.LatestMessage("a_b")
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Errorf("empty partition latest = %v, want nil", latest)
	}

	for _, m := range []*Message{
		textMsg("a_b", "m1", 10, "hi"),
		textMsg("a_b", "m2", 20, "bye"),
	} {
		if _, err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	latest, err = db.LatestMessage("a_b")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Body != "bye" {
		t.Errorf("latest = %v, want body %q", latest, "bye")
	}
}

func TestLatestOfferMessage(t *testing.T) {
	db := testDB(t)
	offer := textMsg("a_b_7", "offer_o1", 10, "would you take 80?")
	offer.MessageType = TypePriceOffer
	offer.OfferID = "o1"
	offer.Metadata = map[string]any{"productTitle": "Bike"}
	for _, m := range []*Message{offer, textMsg("a_b_7", "m2", 20, "text after")} {
		if _, err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.LatestOfferMessage("a_b_7")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.MsgID != "offer_o1" {
		t.Fatalf("latest offer = %v, want offer_o1", got)
	}
	if got.Metadata["productTitle"] != "Bike" {
		t.Errorf("metadata = %v, want productTitle Bike", got.Metadata)
	}
}

func TestDeleteMessage(t *testing.T) {
	db := testDB(t)
	if _, err := db.UpsertMessage(textMsg("a_b", "m1", 10, "hi")); err != nil {
		t.Fatal(err)
	}

	deleted, err := db.DeleteMessage("a_b", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("DeleteMessage() = false for existing row")
	}

	deleted, err = db.DeleteMessage("a_b", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if deleted {
		t.Error("DeleteMessage() = true for absent row")
	}
}

func TestListPartitions(t *testing.T) {
	db := testDB(t)
	for _, m := range []*Message{
		textMsg("c_d", "m1", 10, "x"),
		textMsg("a_b", "m2", 20, "y"),
		textMsg("a_b", "m3", 30, "z"),
	} {
		if _, err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := db.ListPartitions()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "a_b" || keys[1] != "c_d" {
		t.Errorf("partitions = %v, want [a_b c_d]", keys)
	}
}

func TestOfferStatusGuardedUpdate(t *testing.T) {
	db := testDB(t)
	o := &PriceOffer{
		OfferID:         "o1",
		ProductID:       "7",
		Buyer:           "a@x.com",
		Seller:          "b@x.com",
		OriginalPrice:   100,
		OfferedPrice:    80,
		Message:         "deal?",
		Status:          OfferPending,
		ConversationKey: "a_b_7",
		CreatedAt:       time.Now().UnixMilli(),
	}
	if err := db.CreateOffer(o); err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}

	ok, err := db.UpdateOfferStatus("o1", OfferPending, OfferAccepted, time.Now().UnixMilli())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("pending -> accepted rejected by guard")
	}

	// Second transition must miss the guard: the offer is terminal.
	ok, err = db.UpdateOfferStatus("o1", OfferPending, OfferRejected, time.Now().UnixMilli())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("terminal offer accepted a second transition")
	}

	got, err := db.GetOffer("o1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != OfferAccepted {
		t.Errorf("status = %s, want %s", got.Status, OfferAccepted)
	}
	if got.RespondedAt == 0 {
		t.Error("responded_at not recorded")
	}
}

func TestGetOfferMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetOffer("nope")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("GetOffer(missing) = %v, want nil", got)
	}
}

func TestListOffers(t *testing.T) {
	db := testDB(t)
	for i, id := range []string{"o1", "o2"} {
		o := &PriceOffer{
			OfferID:         id,
			ProductID:       "7",
			Buyer:           "a@x.com",
			Seller:          "b@x.com",
			OfferedPrice:    80,
			Status:          OfferPending,
			ConversationKey: "a_b_7",
			CreatedAt:       int64(100 + i),
		}
		if err := db.CreateOffer(o); err != nil {
			t.Fatal(err)
		}
	}

	byProduct, err := db.ListOffersByProduct("7")
	if err != nil {
		t.Fatal(err)
	}
	if len(byProduct) != 2 || byProduct[0].OfferID != "o2" {
		t.Errorf("ListOffersByProduct = %v, want newest first", byProduct)
	}

	byBuyer, err := db.ListOffersByBuyer("a@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(byBuyer) != 2 {
		t.Errorf("ListOffersByBuyer returned %d offers, want 2", len(byBuyer))
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox("c1", "a@x.com", "a@x.com", "b@x.com", "hi"); err != nil {
		t.Fatalf("QueueOutbox() error = %v", err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "c1" {
		t.Fatalf("pending = %v, want one entry c1", pending)
	}

	if err := db.MarkOutboxSending("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("c1"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("sent entry still pending: %v", pending)
	}
}

func TestOutboxFailedKeepsError(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox("c1", "a@x.com", "a@x.com", "b@x.com", "hi"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("c1", "write failed"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("failed entry still pending: %v", pending)
	}
}

func TestUpsertPartyKeepsName(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertParty(&Party{Identity: "a@x.com", DisplayName: "Alice"}); err != nil {
		t.Fatal(err)
	}
	// An empty name must not erase the stored one.
	if err := db.UpsertParty(&Party{Identity: "a@x.com"}); err != nil {
		t.Fatal(err)
	}

	p, err := db.GetParty("a@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.DisplayName != "Alice" {
		t.Errorf("party = %v, want display name Alice", p)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	for _, m := range []*Message{
		textMsg("a_b", "m1", 10, "selling my old bike"),
		textMsg("a_b", "m2", 20, "how about the price"),
		textMsg("c_d", "m3", 30, "bike still available?"),
	} {
		if _, err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.SearchMessages("bike", "", 10)
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	// Scoped to one partition.
	results, err = db.SearchMessages("bike", "a_b", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.MsgID != "m1" {
		t.Errorf("scoped search = %v, want only m1", results)
	}
	if results[0].Snippet == "" {
		t.Error("empty snippet")
	}
}

func TestCounts(t *testing.T) {
	db := testDB(t)
	if _, err := db.UpsertMessage(textMsg("a_b", "m1", 10, "hi")); err != nil {
		t.Fatal(err)
	}
	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("MessageCount() = %d, want 1", n)
	}
	n, err = db.OfferCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("OfferCount() = %d, want 0", n)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	res, err := db.Migrate()
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if res.Changed {
		t.Error("second Migrate() reported changes")
	}
}
