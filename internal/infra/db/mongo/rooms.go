package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/session"
)

var ErrRoomNotFound = errors.New("mongo: room not found")

// RoomRepository persists room snapshots and per-user read markers so a chat
// session survives process restarts. Writes are last-writer-wins upserts; the
// server remains the source of truth, this is only a warm-start cache.
type RoomRepository struct {
	rooms   *mongo.Collection
	markers *mongo.Collection
}

func NewRoomRepository(db *mongo.Database) *RoomRepository {
	return &RoomRepository{
		rooms:   db.Collection("room_snapshots"),
		markers: db.Collection("read_markers"),
	}
}

type roomDocument struct {
	ID                 string `bson:"_id"`
	PostID             int64  `bson:"post_id"`
	PostName           string `bson:"post_name"`
	PostBudget         int64  `bson:"post_budget"`
	CurrentCommentID   int64  `bson:"current_comment_id"`
	EmployerID         int64  `bson:"employer_id"`
	FreelancerID       int64  `bson:"freelancer_id"`
	EmployerWalletID   string `bson:"employer_wallet_id,omitempty"`
	WorkflowID         string `bson:"workflow_id"`
	Status             string `bson:"status"`
	StatusBeforeCancel string `bson:"status_before_cancel,omitempty"`
	UpdatedAt          int64  `bson:"updated_at"`
}

type markerDocument struct {
	ID     string `bson:"_id"`
	RoomID string `bson:"room_id"`
	UserID int64  `bson:"user_id"`
	ReadAt int64  `bson:"read_at"`
}

func markerID(roomID string, userID int64) string {
	return fmt.Sprintf("%s:%d", roomID, userID)
}

func (r *RoomRepository) SaveSnapshot(ctx context.Context, snapshot session.RoomSnapshotRecord) error {
	doc := roomDocument{
		ID:                 snapshot.RoomID,
		PostID:             snapshot.PostID,
		PostName:           snapshot.PostName,
		PostBudget:         snapshot.PostBudget,
		CurrentCommentID:   snapshot.CurrentCommentID,
		EmployerID:         snapshot.EmployerID,
		FreelancerID:       snapshot.FreelancerID,
		EmployerWalletID:   snapshot.EmployerWalletID,
		WorkflowID:         snapshot.WorkflowID,
		Status:             snapshot.Status,
		StatusBeforeCancel: snapshot.StatusBeforeCancel,
		UpdatedAt:          snapshot.UpdatedAt.UnixMilli(),
	}
	opts := options.Update().SetUpsert(true)
	if _, err := r.rooms.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{"$set": doc}, opts); err != nil {
		return fmt.Errorf("mongo: save snapshot %s: %w", snapshot.RoomID, err)
	}
	return nil
}

func (r *RoomRepository) Snapshot(ctx context.Context, roomID string) (session.RoomSnapshotRecord, error) {
	var doc roomDocument
	err := r.rooms.FindOne(ctx, bson.M{"_id": roomID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return session.RoomSnapshotRecord{}, ErrRoomNotFound
	}
	if err != nil {
		return session.RoomSnapshotRecord{}, fmt.Errorf("mongo: load snapshot %s: %w", roomID, err)
	}
	return session.RoomSnapshotRecord{
		RoomID:             doc.ID,
		PostID:             doc.PostID,
		PostName:           doc.PostName,
		PostBudget:         doc.PostBudget,
		CurrentCommentID:   doc.CurrentCommentID,
		EmployerID:         doc.EmployerID,
		FreelancerID:       doc.FreelancerID,
		EmployerWalletID:   doc.EmployerWalletID,
		WorkflowID:         doc.WorkflowID,
		Status:             doc.Status,
		StatusBeforeCancel: doc.StatusBeforeCancel,
		UpdatedAt:          time.UnixMilli(doc.UpdatedAt).UTC(),
	}, nil
}

// SaveReadMarker advances the stored marker; an older timestamp is discarded
// by the filter so replays cannot move it backwards.
func (r *RoomRepository) SaveReadMarker(ctx context.Context, roomID string, userID int64, at time.Time) error {
	if at.IsZero() {
		return nil
	}
	doc := markerDocument{
		ID:     markerID(roomID, userID),
		RoomID: roomID,
		UserID: userID,
		ReadAt: at.UnixMilli(),
	}
	filter := bson.M{"_id": doc.ID, "read_at": bson.M{"$lt": doc.ReadAt}}
	opts := options.Update().SetUpsert(true)
	_, err := r.markers.UpdateOne(ctx, filter, bson.M{"$set": doc}, opts)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("mongo: save read marker %s: %w", doc.ID, err)
	}
	return nil
}

func (r *RoomRepository) ReadMarker(ctx context.Context, roomID string, userID int64) (time.Time, error) {
	var doc markerDocument
	err := r.markers.FindOne(ctx, bson.M{"_id": markerID(roomID, userID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mongo: load read marker: %w", err)
	}
	return time.UnixMilli(doc.ReadAt).UTC(), nil
}

var _ session.RoomRepository = (*RoomRepository)(nil)
