package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"convertapi/internal/entities"
	"convertapi/internal/infrastructure"
	"convertapi/internal/interfaces"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	qrImageSize        = 256
	defaultDownloadTTL = 15 * time.Minute
)

type Download struct {
	Filename string
	Size     int64
	Body     io.ReadCloser
}

// DownloadLink is an absolute, signed URL that fetches a job's output
// without credentials until it expires.
type DownloadLink struct {
	URL       string
	ExpiresAt time.Time
}

type StatusUsecase struct {
	registry      *JobRegistry
	artifacts     interfaces.ArtifactStore
	tokens        *TokenIssuer
	publicBaseURL string
	linkTTL       time.Duration
}

func NewStatusUsecase(registry *JobRegistry, artifacts interfaces.ArtifactStore, tokens *TokenIssuer, publicBaseURL string, linkTTL time.Duration) *StatusUsecase {
	if linkTTL <= 0 {
		linkTTL = defaultDownloadTTL
	}
	return &StatusUsecase{
		registry:      registry,
		artifacts:     artifacts,
		tokens:        tokens,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		linkTTL:       linkTTL,
	}
}

func (uc *StatusUsecase) GetStatus(ctx context.Context, jobID, requesterID string) (*entities.Job, error) {
	return uc.registry.Get(ctx, jobID, requesterID)
}

func (uc *StatusUsecase) completedJob(ctx context.Context, jobID, requesterID string) (*entities.Job, error) {
	job, err := uc.registry.Get(ctx, jobID, requesterID)
	if err != nil {
		return nil, err
	}
	if job.Status != entities.JobCompleted || job.OutputRef == "" {
		return nil, entities.ErrJobNotReady
	}
	return job, nil
}

// Download opens the output of a completed job. The caller closes Body.
func (uc *StatusUsecase) Download(ctx context.Context, jobID, requesterID string) (*Download, error) {
	job, err := uc.completedJob(ctx, jobID, requesterID)
	if err != nil {
		return nil, err
	}
	return uc.open(ctx, job)
}

// DownloadWithToken opens the output using a signed link instead of the
// caller's credentials. The link acts for the owner it was issued to.
func (uc *StatusUsecase) DownloadWithToken(ctx context.Context, jobID, token string) (*Download, error) {
	claims, err := uc.tokens.ParseDownload(token, jobID)
	if err != nil {
		return nil, err
	}
	job, err := uc.completedJob(ctx, jobID, claims.OwnerID)
	if err != nil {
		return nil, err
	}
	return uc.open(ctx, job)
}

func (uc *StatusUsecase) open(ctx context.Context, job *entities.Job) (*Download, error) {
	body, size, err := uc.artifacts.Open(ctx, job.OutputRef)
	if errors.Is(err, infrastructure.ErrArtifactNotFound) {
		return nil, fmt.Errorf("%w: output no longer available", entities.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return &Download{Filename: job.OutputFilename, Size: size, Body: body}, nil
}

// Link signs a download URL for a completed job the requester can see.
func (uc *StatusUsecase) Link(ctx context.Context, jobID, requesterID string) (*DownloadLink, error) {
	job, err := uc.completedJob(ctx, jobID, requesterID)
	if err != nil {
		return nil, err
	}
	token, exp, err := uc.tokens.IssueDownload(job.ID, job.UserID, uc.linkTTL)
	if err != nil {
		return nil, fmt.Errorf("sign download link: %w", err)
	}
	link := uc.publicBaseURL + job.DownloadURL() + "?" + url.Values{"token": {token}}.Encode()
	return &DownloadLink{URL: link, ExpiresAt: exp}, nil
}

// DownloadQR renders a signed download link as a PNG, so scanning it works
// on a device without the owner's credentials.
func (uc *StatusUsecase) DownloadQR(ctx context.Context, jobID, requesterID string) ([]byte, *DownloadLink, error) {
	link, err := uc.Link(ctx, jobID, requesterID)
	if err != nil {
		return nil, nil, err
	}
	png, err := qrcode.Encode(link.URL, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, link, nil
}
