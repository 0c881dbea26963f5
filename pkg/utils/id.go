package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

var idSeq uint64

// GenMessageID generates a unique message ID from the current UTC nanosecond
// timestamp and an atomic sequence number. IDs sort in creation order.
func GenMessageID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}

// GenConversationID generates a unique conversation ID in the same format.
func GenConversationID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("conv-%d-%d", n, s)
}

// ShortToken returns 8 hex characters of randomness for filename suffixes.
func ShortToken() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
