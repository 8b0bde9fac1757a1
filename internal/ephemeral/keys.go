package ephemeral

import "strings"

const (
	LikeCountPrefix = "like_count:"
	LikedPrefix     = "user_liked:"
	UnlikedPrefix   = "user_unliked:"
	SeenPrefix      = "seenPosts:"
)

func LikeCountKey(targetID string) string { return LikeCountPrefix + targetID }
func LikedKey(targetID string) string     { return LikedPrefix + targetID }
func UnlikedKey(targetID string) string   { return UnlikedPrefix + targetID }
func SeenKey(viewerID string) string      { return SeenPrefix + viewerID }

func FollowersKey(userID string) string   { return "user:" + userID + ":followers" }
func FollowingKey(userID string) string   { return "user:" + userID + ":following" }
func UnfollowingKey(userID string) string { return "user:" + userID + ":unfollowing" }

// TargetFromKey strips prefix from key. It returns false when key does not
// carry the prefix or the remaining id is empty.
func TargetFromKey(key, prefix string) (string, bool) {
	id, ok := strings.CutPrefix(key, prefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
