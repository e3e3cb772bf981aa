package idlewatcher

import xsync "github.com/jezek/xgb/sync"

// i64ToSyncValue encodes a millisecond count into the SYNC extension's
// 64-bit INT64, carried over the wire as two signed 32-bit halves.
func i64ToSyncValue(n int64) xsync.Int64 {
	return xsync.Int64{
		Hi: int32(n >> 32),
		Lo: int32(uint32(n)),
	}
}

// syncValueToI64 is the inverse of i64ToSyncValue.
func syncValueToI64(v xsync.Int64) int64 {
	return int64(v.Hi)<<32 | int64(uint32(v.Lo))
}
