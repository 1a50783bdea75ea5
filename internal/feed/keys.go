package feed

const (
	// KeyPrefixFeed is the prefix of per-owner change channels.
	KeyPrefixFeed = "shelf:feed:"
	// ResyncChannel is shared by every subscription and carries reconnect markers.
	ResyncChannel = "shelf:feed:resync"
)

// OwnerChannel returns the pub/sub channel carrying one owner's row changes.
func OwnerChannel(ownerID string) string {
	return KeyPrefixFeed + ownerID
}
