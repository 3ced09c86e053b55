package store

import (
	"bytes"
	"fmt"

	"github.com/kilupskalvis/wikimirror/internal/models"
	bolt "go.etcd.io/bbolt"
)

// GetPage retrieves a page by id. Returns (nil, nil) if not found.
func (s *Store) GetPage(id int64) (*models.Page, error) {
	var page *models.Page
	err := s.db.View(func(tx *bolt.Tx) error {
		var p models.Page
		found, err := getJSON(tx.Bucket(bucketPages), itob(id), &p)
		if found {
			page = &p
		}
		return err
	})
	return page, err
}

// GetPageByTitle retrieves the page holding (ns, title). Returns (nil, nil)
// if the title is free.
func (s *Store) GetPageByTitle(ns int, title string) (*models.Page, error) {
	var page *models.Page
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketPageTitles).Get([]byte(models.PageTitleKey(ns, title)))
		if id == nil {
			return nil
		}
		var p models.Page
		found, err := getJSON(tx.Bucket(bucketPages), id, &p)
		if found {
			page = &p
		}
		return err
	})
	return page, err
}

// InsertPage stores a new page and claims its title.
func (s *Store) InsertPage(page *models.Page) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pages := tx.Bucket(bucketPages)
		titles := tx.Bucket(bucketPageTitles)
		key := itob(page.ID)

		if pages.Get(key) != nil {
			return fmt.Errorf("page %d: %w", page.ID, ErrPageExists)
		}
		titleKey := []byte(models.PageTitleKey(page.Namespace, page.Title))
		if holder := titles.Get(titleKey); holder != nil {
			return fmt.Errorf("page %d title %q held by page %d: %w", page.ID, page.Title, btoi(holder), ErrTitleTaken)
		}

		if err := putJSON(pages, key, page); err != nil {
			return err
		}
		return titles.Put(titleKey, key)
	})
}

// UpdatePage overwrites an existing page, moving its title index entry if
// the namespace or title changed.
func (s *Store) UpdatePage(page *models.Page) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return updatePageTx(tx, page)
	})
}

func updatePageTx(tx *bolt.Tx, page *models.Page) error {
	pages := tx.Bucket(bucketPages)
	titles := tx.Bucket(bucketPageTitles)
	key := itob(page.ID)

	var old models.Page
	found, err := getJSON(pages, key, &old)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("page %d: %w", page.ID, ErrNotFound)
	}

	oldKey := []byte(models.PageTitleKey(old.Namespace, old.Title))
	newKey := []byte(models.PageTitleKey(page.Namespace, page.Title))
	if !bytes.Equal(oldKey, newKey) {
		if holder := titles.Get(newKey); holder != nil && !bytes.Equal(holder, key) {
			return fmt.Errorf("page %d title %q held by page %d: %w", page.ID, page.Title, btoi(holder), ErrTitleTaken)
		}
		if holder := titles.Get(oldKey); bytes.Equal(holder, key) {
			if err := titles.Delete(oldKey); err != nil {
				return err
			}
		}
		if err := titles.Put(newKey, key); err != nil {
			return err
		}
	}

	return putJSON(pages, key, page)
}

// RetitlePage moves a page to a new title in the same namespace.
func (s *Store) RetitlePage(id int64, ns int, title string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var p models.Page
		found, err := getJSON(tx.Bucket(bucketPages), itob(id), &p)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("page %d: %w", id, ErrNotFound)
		}
		p.Namespace = ns
		p.Title = title
		return updatePageTx(tx, &p)
	})
}
