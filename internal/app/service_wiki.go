package app

import (
	"context"
	"fmt"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/blob"
	"collabrepo/api/internal/wiki"
)

// WikiInput is a page as submitted by a client. Markdown, when set, is
// uploaded and replaces MarkdownRef.
type WikiInput struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	ParentID       string   `json:"parentWikiId"`
	Markdown       *string  `json:"markdown"`
	MarkdownRef    string   `json:"markdownFileHandleId"`
	AttachmentRefs []string `json:"attachmentFileHandleIds"`
	Etag           string   `json:"etag"`
}

type MarkdownVersion struct {
	WikiID   string `json:"wikiId"`
	Version  int64  `json:"version"`
	Markdown string `json:"markdown"`
}

func entityOwner(ownerID string) wiki.OwnerKey {
	return wiki.OwnerKey{OwnerID: ownerID, OwnerType: wiki.OwnerEntity}
}

func (s *Service) CreateWiki(ctx context.Context, p acl.Principal, ownerID string, in WikiInput) (wiki.Page, error) {
	if err := s.acls.Authorize(ctx, p, ownerID, acl.AccessUpdate); err != nil {
		return wiki.Page{}, err
	}
	page, names, err := s.preparePage(ctx, p, in)
	if err != nil {
		return wiki.Page{}, err
	}
	page.CreatedBy = p.ID
	return s.wikis.Create(ctx, page, names, entityOwner(ownerID), page.AttachmentRefs)
}

func (s *Service) UpdateWiki(ctx context.Context, p acl.Principal, ownerID, wikiID string, in WikiInput) (wiki.Page, error) {
	if err := s.acls.Authorize(ctx, p, ownerID, acl.AccessUpdate); err != nil {
		return wiki.Page{}, err
	}
	key := wiki.Key{OwnerKey: entityOwner(ownerID), WikiID: wikiID}
	reserved, err := s.wikis.GetReservedRefs(ctx, key)
	if err != nil {
		return wiki.Page{}, err
	}
	in.ID = wikiID
	page, names, err := s.preparePage(ctx, p, in)
	if err != nil {
		return wiki.Page{}, err
	}
	seen := make(map[string]bool, len(reserved))
	for _, ref := range reserved {
		seen[ref] = true
	}
	newRefs := make([]string, 0)
	for _, ref := range page.AttachmentRefs {
		if !seen[ref] {
			newRefs = append(newRefs, ref)
		}
	}
	return s.wikis.UpdateWikiPage(ctx, page, names, key.OwnerKey, newRefs)
}

// preparePage uploads inline markdown and looks up the file name of every
// attachment.
func (s *Service) preparePage(ctx context.Context, p acl.Principal, in WikiInput) (wiki.Page, map[string]blob.FileHandle, error) {
	page := wiki.Page{
		ID:             in.ID,
		ParentID:       in.ParentID,
		Title:          in.Title,
		MarkdownRef:    in.MarkdownRef,
		AttachmentRefs: in.AttachmentRefs,
		Etag:           in.Etag,
		ModifiedBy:     p.ID,
	}
	names := make(map[string]blob.FileHandle, len(in.AttachmentRefs))
	for _, ref := range in.AttachmentRefs {
		handle, err := s.blobs.Stat(ctx, ref)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return wiki.Page{}, nil, apperr.BadRequest("attachment %s does not exist", ref)
			}
			return wiki.Page{}, nil, err
		}
		if _, dup := names[handle.FileName]; dup {
			return wiki.Page{}, nil, apperr.BadRequest("two attachments are named %q", handle.FileName)
		}
		names[handle.FileName] = handle
	}
	if in.Markdown != nil {
		handle, err := blob.PutMarkdown(ctx, s.blobs, *in.Markdown, p.ID)
		if err != nil {
			return wiki.Page{}, nil, err
		}
		page.MarkdownRef = handle.ID
	}
	return page, names, nil
}

func (s *Service) GetWiki(ctx context.Context, p acl.Principal, ownerID, wikiID string) (wiki.Page, error) {
	if err := s.acls.Authorize(ctx, p, ownerID, acl.AccessRead); err != nil {
		return wiki.Page{}, err
	}
	return s.wikis.Get(ctx, wiki.Key{OwnerKey: entityOwner(ownerID), WikiID: wikiID})
}

func (s *Service) GetRootWiki(ctx context.Context, p acl.Principal, ownerID string) (wiki.Page, error) {
	if err := s.acls.Authorize(ctx, p, ownerID, acl.AccessRead); err != nil {
		return wiki.Page{}, err
	}
	owner := entityOwner(ownerID)
	rootID, err := s.wikis.GetRootID(ctx, owner)
	if err != nil {
		return wiki.Page{}, err
	}
	return s.wikis.Get(ctx, wiki.Key{OwnerKey: owner, WikiID: rootID})
}

func (s *Service) DeleteWiki(ctx context.Context, p acl.Principal, ownerID, wikiID string) error {
	if err := s.acls.Authorize(ctx, p, ownerID, acl.AccessDelete); err != nil {
		return err
	}
	return s.wikis.Delete(ctx, wiki.Key{OwnerKey: entityOwner(ownerID), WikiID: wikiID})
}

func (s *Service) GetWikiHeaderTree(ctx context.Context, p acl.Principal, ownerID string) ([]wiki.Header, error) {
	if err := s.acls.Authorize(ctx, p, ownerID, acl.AccessRead); err != nil {
		return nil, err
	}
	return s.wikis.GetHeaderTree(ctx, entityOwner(ownerID))
}

func (s *Service) GetWikiHistory(ctx context.Context, p acl.Principal, ownerID, wikiID string, limit, offset int) ([]wiki.Snapshot, error) {
	if err := s.acls.Authorize(ctx, p, ownerID, acl.AccessRead); err != nil {
		return nil, err
	}
	return s.wikis.GetHistory(ctx, wiki.Key{OwnerKey: entityOwner(ownerID), WikiID: wikiID}, limit, offset)
}

// GetWikiAttachments returns the handles of the current attachments in page
// order.
func (s *Service) GetWikiAttachments(ctx context.Context, p acl.Principal, ownerID, wikiID string) ([]blob.FileHandle, error) {
	if err := s.acls.Authorize(ctx, p, ownerID, acl.AccessRead); err != nil {
		return nil, err
	}
	refs, err := s.wikis.GetAttachmentRefs(ctx, wiki.Key{OwnerKey: entityOwner(ownerID), WikiID: wikiID})
	if err != nil {
		return nil, err
	}
	handles := make([]blob.FileHandle, 0, len(refs))
	for _, ref := range refs {
		handle, err := s.blobs.Stat(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("attachment %s of wiki %s: %w", ref, wikiID, err)
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

func (s *Service) RestoreWiki(ctx context.Context, p acl.Principal, ownerID, wikiID string, version int64, etag string) (wiki.Page, error) {
	if err := s.acls.Authorize(ctx, p, ownerID, acl.AccessUpdate); err != nil {
		return wiki.Page{}, err
	}
	return s.wikis.RestoreVersion(ctx, wiki.Key{OwnerKey: entityOwner(ownerID), WikiID: wikiID}, version, etag, p.ID)
}

// GetWikiMarkdown reads the markdown of version, or of the head when version
// is zero.
func (s *Service) GetWikiMarkdown(ctx context.Context, p acl.Principal, ownerID, wikiID string, version int64) (MarkdownVersion, error) {
	if err := s.acls.Authorize(ctx, p, ownerID, acl.AccessRead); err != nil {
		return MarkdownVersion{}, err
	}
	key := wiki.Key{OwnerKey: entityOwner(ownerID), WikiID: wikiID}
	if version == 0 {
		page, err := s.wikis.Get(ctx, key)
		if err != nil {
			return MarkdownVersion{}, err
		}
		version = page.Version
	}
	ref, err := s.wikis.GetMarkdownRefForVersion(ctx, key, version)
	if err != nil {
		return MarkdownVersion{}, err
	}
	markdown, err := blob.ReadMarkdown(ctx, s.blobs, ref)
	if err != nil {
		return MarkdownVersion{}, err
	}
	return MarkdownVersion{WikiID: wikiID, Version: version, Markdown: markdown}, nil
}
