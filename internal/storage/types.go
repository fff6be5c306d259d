package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBCredentials is the persisted login of the local user. Only one set is
// kept at a time.
type DBCredentials struct {
	Token      string `msgpack:"token"`
	UserID     string `msgpack:"userId"`
	Name       string `msgpack:"name"`
	Email      string `msgpack:"email"`
	Role       string `msgpack:"role"`
	Department string `msgpack:"department"`
	SavedAt    int64  `msgpack:"savedAt"`
}

var credentialsKey = []byte("current")

func (c *DBCredentials) Key() []byte {
	return credentialsKey
}

func (c *DBCredentials) MarshalBinary() (data []byte, err error) {
	type alias DBCredentials
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCredentials) UnmarshalBinary(data []byte) error {
	type alias DBCredentials
	return msgpack.Unmarshal(data, (*alias)(c))
}

// DBPreview records a local copy of a file whose upload did not reach the
// server.
type DBPreview struct {
	ID        string `msgpack:"id"`
	Path      string `msgpack:"path"`
	FileName  string `msgpack:"fileName"`
	MimeType  string `msgpack:"mimeType"`
	Size      int64  `msgpack:"size"`
	CourseID  string `msgpack:"courseId"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (p *DBPreview) Key() []byte {
	return []byte(p.ID)
}

func (p *DBPreview) MarshalBinary() (data []byte, err error) {
	type alias DBPreview
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPreview) UnmarshalBinary(data []byte) error {
	type alias DBPreview
	return msgpack.Unmarshal(data, (*alias)(p))
}
