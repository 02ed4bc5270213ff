package service

import (
	"time"

	"github.com/google/uuid"
)

var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}

func newID() string {
	return uuid.NewString()
}
