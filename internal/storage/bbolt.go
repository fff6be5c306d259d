package storage

import (
	"errors"
	"fmt"
	"time"

	"coursechat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	ErrNotFound = errors.New("not found")
)

var (
	bucketSession  = []byte("session")
	bucketSettings = []byte("settings")
	bucketPreviews = []byte("previews")

	keyLastCourse = []byte("last_course")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSession, bucketSettings, bucketPreviews} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func (s *BboltStorage) put(bucket []byte, item Storeable) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := item.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal %s record: %w", bucket, err)
		}
		return tx.Bucket(bucket).Put(item.Key(), data)
	})
}

func (s *BboltStorage) get(bucket []byte, item Storeable) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get(item.Key())
		if data == nil {
			return ErrNotFound
		}
		return item.UnmarshalBinary(data)
	})
}

func (s *BboltStorage) del(bucket, key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
}

// LoadCredentials returns the stored login or ErrNotFound.
func (s *BboltStorage) LoadCredentials() (models.AuthResponse, error) {
	var creds DBCredentials
	if err := s.get(bucketSession, &creds); err != nil {
		return models.AuthResponse{}, err
	}
	if creds.Token == "" {
		return models.AuthResponse{}, ErrNotFound
	}
	return models.AuthResponse{
		Token: creds.Token,
		User: models.User{
			ID:         creds.UserID,
			Name:       creds.Name,
			Email:      creds.Email,
			Role:       models.UserRole(creds.Role),
			Department: creds.Department,
		},
	}, nil
}

// SaveCredentials replaces the stored login.
func (s *BboltStorage) SaveCredentials(auth models.AuthResponse) error {
	return s.put(bucketSession, &DBCredentials{
		Token:      auth.Token,
		UserID:     auth.User.ID,
		Name:       auth.User.Name,
		Email:      auth.User.Email,
		Role:       string(auth.User.Role),
		Department: auth.User.Department,
		SavedAt:    time.Now().Unix(),
	})
}

func (s *BboltStorage) ClearCredentials() error {
	return s.del(bucketSession, credentialsKey)
}

// LastCourse returns the course selected when the client last ran.
func (s *BboltStorage) LastCourse() (string, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get(keyLastCourse)
		if data == nil {
			return ErrNotFound
		}
		id = string(data)
		return nil
	})
	return id, err
}

func (s *BboltStorage) SetLastCourse(courseID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put(keyLastCourse, []byte(courseID))
	})
}

func (s *BboltStorage) UpsertPreview(preview DBPreview) error {
	return s.put(bucketPreviews, &preview)
}

func (s *BboltStorage) GetPreview(id string) (DBPreview, error) {
	preview := DBPreview{ID: id}
	err := s.get(bucketPreviews, &preview)
	return preview, err
}

func (s *BboltStorage) DeletePreview(id string) error {
	return s.del(bucketPreviews, []byte(id))
}

// ListPreviews returns every recorded preview in key order.
func (s *BboltStorage) ListPreviews() ([]DBPreview, error) {
	var previews []DBPreview
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPreviews).ForEach(func(k, v []byte) error {
			var p DBPreview
			if err := p.UnmarshalBinary(v); err != nil {
				return err
			}
			previews = append(previews, p)
			return nil
		})
	})
	return previews, err
}
