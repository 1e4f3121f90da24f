// Package ugoira turns pixiv's animated works, a zip of still frames plus
// per-frame delays, into a looping GIF.
package ugoira

import (
	"archive/zip"
	"context"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	errs "pixivdl/pkg/errors"
	"pixivdl/pkg/feed"
	"pixivdl/pkg/logger"
	"pixivdl/pkg/storage"
)

func init() {
	image.RegisterFormat("webp", "RIFF????WEBPVP8", webp.Decode, webp.DecodeConfig)
}

// Fetcher downloads url to dest, skipping when dest exists
type Fetcher interface {
	FetchTo(ctx context.Context, url, dest, title string) (string, error)
}

// Assembler builds GIFs from frame archives
type Assembler struct {
	fetcher Fetcher
	policy  DurationPolicy
	logger  logger.Logger
	group   singleflight.Group
}

// New creates an Assembler
func New(fetcher Fetcher, policy DurationPolicy, log logger.Logger) *Assembler {
	if policy == "" {
		policy = PolicyStrict
	}
	return &Assembler{
		fetcher: fetcher,
		policy:  policy,
		logger:  logger.OrGlobal(log),
	}
}

// Run assembles an archive task, playing frames in task.Frames order
func (a *Assembler) Run(ctx context.Context, task feed.Task) (string, error) {
	return a.assembleOnce(ctx, task.ItemID, task.URL, task.Dest, task.Durations, task.Frames)
}

// Assemble downloads archiveURL, extracts its frames and writes gifPath.
// Frames play in numeric name order. An existing gifPath is returned
// untouched. The archive and extracted frames are always removed.
// Concurrent calls for one gifPath share a single assembly.
func (a *Assembler) Assemble(ctx context.Context, itemID, archiveURL, gifPath string, durationsMs []int) (string, error) {
	return a.assembleOnce(ctx, itemID, archiveURL, gifPath, durationsMs, nil)
}

func (a *Assembler) assembleOnce(ctx context.Context, itemID, archiveURL, gifPath string, durationsMs []int, order []string) (string, error) {
	if storage.Exists(gifPath) {
		return gifPath, nil
	}

	_, err, _ := a.group.Do(gifPath, func() (interface{}, error) {
		if storage.Exists(gifPath) {
			return nil, nil
		}
		return nil, a.assemble(ctx, itemID, archiveURL, gifPath, durationsMs, order)
	})
	if err != nil {
		return "", err
	}
	return gifPath, nil
}

func (a *Assembler) assemble(ctx context.Context, itemID, archiveURL, gifPath string, durationsMs []int, order []string) (err error) {
	archivePath := storage.ArchivePath(gifPath)
	scratch := storage.ScratchDir(gifPath)
	log := a.logger.WithFields(map[string]interface{}{
		"item_id": itemID,
		"gif":     gifPath,
	})

	defer func() {
		if rmErr := os.Remove(archivePath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.WithError(rmErr).Warn("Failed to remove frame archive")
		}
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			log.WithError(rmErr).Warn("Failed to remove scratch directory")
		}
	}()

	if _, err := a.fetcher.FetchTo(ctx, archiveURL, archivePath, filepath.Base(gifPath)); err != nil {
		return fmt.Errorf("download frame archive: %w", err)
	}

	frames, err := extract(archivePath, scratch, itemID, order)
	if err != nil {
		return err
	}

	delays, err := a.policy.Delays(durationsMs, len(frames))
	if err != nil {
		return errs.Wrap(errs.ErrorTypeParsing, err, "frame durations")
	}

	log.DebugWithFields("Making the gif", map[string]interface{}{
		"frames": len(frames),
	})
	return encode(frames, delays, gifPath)
}

// extract writes every file entry of the archive into scratch in playback
// order, renamed <itemID>_p<index><ext>
func extract(archivePath, scratch, itemID string, order []string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errs.CorruptArchive("open archive", err)
	}
	defer zr.Close()

	var entries []*zip.File
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			entries = append(entries, f)
		}
	}
	if len(entries) == 0 {
		return nil, errs.CorruptArchive("archive is empty", nil)
	}
	sortFrames(entries, order)

	if err := os.RemoveAll(scratch); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeFilesystem, err, "clear scratch directory")
	}
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeFilesystem, err, "create scratch directory")
	}

	paths := make([]string, 0, len(entries))
	for i, f := range entries {
		ext := strings.ToLower(path.Ext(f.Name))
		dest := filepath.Join(scratch, fmt.Sprintf("%s_p%d%s", itemID, i, ext))
		if err := extractEntry(f, dest); err != nil {
			return nil, err
		}
		paths = append(paths, dest)
	}
	return paths, nil
}

// sortFrames puts entries listed in order first, in that order, and the
// rest after them by name with digit runs compared as numbers
// (2.jpg before 10.jpg)
func sortFrames(entries []*zip.File, order []string) {
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	names := collate.New(language.Und, collate.Numeric)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Name, entries[j].Name
		pa, aok := pos[a]
		pb, bok := pos[b]
		switch {
		case aok && bok:
			return pa < pb
		case aok != bok:
			return aok
		}
		if c := names.CompareString(a, b); c != 0 {
			return c < 0
		}
		return a < b
	})
}

func extractEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return errs.CorruptArchive(fmt.Sprintf("open entry %s", f.Name), err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeFilesystem, err, "create frame file")
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return errs.CorruptArchive(fmt.Sprintf("read entry %s", f.Name), err)
	}
	if err := out.Close(); err != nil {
		return errs.Wrap(errs.ErrorTypeFilesystem, err, "close frame file")
	}
	return nil
}

// encode decodes the frames in order and writes an endlessly looping GIF
func encode(frames []string, delays []int, gifPath string) error {
	anim := &gif.GIF{LoopCount: 0}
	for i, p := range frames {
		img, err := decodeFrame(p)
		if err != nil {
			return errs.CorruptArchive(fmt.Sprintf("decode frame %d", i), err)
		}
		bounds := img.Bounds()
		paletted := image.NewPaletted(bounds, palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, bounds, img, bounds.Min)

		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, delays[i])
	}

	out, err := storage.Create(gifPath)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeFilesystem, err, "create gif")
	}
	if err := gif.EncodeAll(out, anim); err != nil {
		out.Abort()
		return errs.Wrap(errs.ErrorTypeFilesystem, err, "encode gif")
	}
	if err := out.Commit(); err != nil {
		return errs.Wrap(errs.ErrorTypeFilesystem, err, "write gif")
	}
	return nil
}

func decodeFrame(p string) (image.Image, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
