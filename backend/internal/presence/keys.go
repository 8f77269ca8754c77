package presence

import "fmt"

// 键语义：
// - roomKey(docID):           房间候选成员集合（Set<userId>）
// - memberKey(docID,userID):  成员心跳键（String，占位"1"，带 TTL）
// - entriesKey(docID):        房间内 userId→Entry JSON 映射（Hash）
//
// 成员是否在线只看心跳键是否存在；room set 和 entries hash 里可能残留
// 已过期成员，读取时按心跳过滤。

const (
	keyRoomFmt    = "presence:room:%s"      // Set<userId>
	keyMemberFmt  = "presence:member:%s:%d" // String "1" with TTL
	keyEntriesFmt = "presence:entries:%s"   // Hash<userId -> Entry JSON>
)

func roomKey(docID string) string                  { return fmt.Sprintf(keyRoomFmt, docID) }
func memberKey(docID string, userID uint64) string { return fmt.Sprintf(keyMemberFmt, docID, userID) }
func entriesKey(docID string) string               { return fmt.Sprintf(keyEntriesFmt, docID) }
