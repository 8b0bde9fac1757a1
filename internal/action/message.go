package action

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned when a queue message violates its schema.
var ErrInvalidMessage = errors.New("invalid message")

// ValidationError represents a schema violation with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets callers match every validation failure with ErrInvalidMessage.
func (e ValidationError) Unwrap() error {
	return ErrInvalidMessage
}

// LikeMessage is the wire format of a like/unlike intent on the likes queue.
type LikeMessage struct {
	LikedByID string   `json:"likedById"`
	LikedTo   string   `json:"likedTo"`
	PostID    string   `json:"postId,omitempty"`
	ClipID    string   `json:"clipId,omitempty"`
	CommentID string   `json:"commentId,omitempty"`
	Type      LikeKind `json:"type"`
}

// FollowMessage is the wire format of a follow/unfollow intent.
type FollowMessage struct {
	FollowerID  string     `json:"followerId"`
	FollowingID string     `json:"followingId"`
	Action      FollowKind `json:"action"`
}

// CommentMessage is the wire format of a new comment.
type CommentMessage struct {
	PostID          string `json:"postId,omitempty"`
	ClipID          string `json:"clipId,omitempty"`
	ParentCommentID string `json:"parentCommentId,omitempty"`
	Comment         string `json:"comment"`
	CommentByID     string `json:"commentById"`
	CommentTo       string `json:"commentTo"`
}

// EncodeLike converts a LikeAction into its queue message bytes.
func EncodeLike(a LikeAction) ([]byte, error) {
	msg := LikeMessage{
		LikedByID: a.ActorID,
		LikedTo:   a.RecipientID,
		Type:      a.Kind,
	}
	switch a.TargetType {
	case TargetPost:
		msg.PostID = a.TargetID
	case TargetClip:
		msg.ClipID = a.TargetID
	case TargetComment:
		msg.CommentID = a.TargetID
	default:
		return nil, ValidationError{Field: "targetType", Message: fmt.Sprintf("unknown target type %q", a.TargetType)}
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// DecodeLike parses and validates a likes-queue message.
func DecodeLike(data []byte) (LikeAction, error) {
	var msg LikeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return LikeAction{}, fmt.Errorf("%w: decode like: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return LikeAction{}, err
	}

	a := LikeAction{
		ActorID:     msg.LikedByID,
		RecipientID: msg.LikedTo,
		Kind:        msg.Type,
	}
	switch {
	case msg.PostID != "":
		a.TargetID, a.TargetType = msg.PostID, TargetPost
	case msg.ClipID != "":
		a.TargetID, a.TargetType = msg.ClipID, TargetClip
	default:
		a.TargetID, a.TargetType = msg.CommentID, TargetComment
	}
	return a, nil
}

// Validate checks that exactly one target field is set and the type is known.
func (m LikeMessage) Validate() error {
	if m.LikedByID == "" {
		return ValidationError{Field: "likedById", Message: "required"}
	}
	set := 0
	for _, id := range []string{m.PostID, m.ClipID, m.CommentID} {
		if id != "" {
			set++
		}
	}
	if set != 1 {
		return ValidationError{Field: "postId|clipId|commentId", Message: fmt.Sprintf("exactly one target required, got %d", set)}
	}
	if m.Type != Like && m.Type != Unlike {
		return ValidationError{Field: "type", Message: fmt.Sprintf("must be %q or %q, got %q", Like, Unlike, m.Type)}
	}
	return nil
}

// EncodeFollow converts a FollowAction into its queue message bytes.
func EncodeFollow(a FollowAction) ([]byte, error) {
	msg := FollowMessage{
		FollowerID:  a.FollowerID,
		FollowingID: a.FollowingID,
		Action:      a.Kind,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// DecodeFollow parses and validates a follows-queue message.
func DecodeFollow(data []byte) (FollowAction, error) {
	var msg FollowMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return FollowAction{}, fmt.Errorf("%w: decode follow: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return FollowAction{}, err
	}
	return FollowAction{
		FollowerID:  msg.FollowerID,
		FollowingID: msg.FollowingID,
		Kind:        msg.Action,
	}, nil
}

// Validate checks follow message fields.
func (m FollowMessage) Validate() error {
	if m.FollowerID == "" {
		return ValidationError{Field: "followerId", Message: "required"}
	}
	if m.FollowingID == "" {
		return ValidationError{Field: "followingId", Message: "required"}
	}
	if m.Action != Follow && m.Action != Unfollow {
		return ValidationError{Field: "action", Message: fmt.Sprintf("must be %q or %q, got %q", Follow, Unfollow, m.Action)}
	}
	return nil
}

// EncodeComment converts a CommentAction into its queue message bytes.
func EncodeComment(a CommentAction) ([]byte, error) {
	msg := CommentMessage{
		PostID:          a.PostID,
		ClipID:          a.ClipID,
		ParentCommentID: a.ParentCommentID,
		Comment:         a.Text,
		CommentByID:     a.AuthorID,
		CommentTo:       a.RecipientID,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// DecodeComment parses and validates a comments-queue message.
func DecodeComment(data []byte) (CommentAction, error) {
	var msg CommentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return CommentAction{}, fmt.Errorf("%w: decode comment: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return CommentAction{}, err
	}
	return CommentAction{
		AuthorID:        msg.CommentByID,
		PostID:          msg.PostID,
		ClipID:          msg.ClipID,
		ParentCommentID: msg.ParentCommentID,
		Text:            msg.Comment,
		RecipientID:     msg.CommentTo,
	}, nil
}

// Validate checks comment message fields.
func (m CommentMessage) Validate() error {
	if m.CommentByID == "" {
		return ValidationError{Field: "commentById", Message: "required"}
	}
	if m.Comment == "" {
		return ValidationError{Field: "comment", Message: "required"}
	}
	set := 0
	for _, id := range []string{m.PostID, m.ClipID, m.ParentCommentID} {
		if id != "" {
			set++
		}
	}
	if set != 1 {
		return ValidationError{Field: "postId|clipId|parentCommentId", Message: fmt.Sprintf("exactly one target required, got %d", set)}
	}
	return nil
}
