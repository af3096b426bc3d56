package rawdb

import (
	"github.com/everFinance/trustcoin/common"
)

var log = common.NewLog("rawdb")

type KeyValueDB interface {
	Put(bucket, key string, value []byte) (err error)

	// PutIfAbsent writes only when key does not exist yet; ok reports whether it wrote.
	PutIfAbsent(bucket, key string, value []byte) (ok bool, err error)

	// Update runs fn on the current value (nil if absent) inside one write transaction.
	// A nil result deletes the key.
	Update(bucket, key string, fn func(old []byte) ([]byte, error)) (err error)

	Get(bucket, key string) (data []byte, err error)

	GetAll(bucket string) (kvs map[string][]byte, err error)

	GetAllKey(bucket string) (keys []string, err error)

	Delete(bucket, key string) (err error)

	Close() (err error)

	Type() string

	Exist(bucket, key string) bool
}
