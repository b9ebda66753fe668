// Package s3 implements driver.Driver against Amazon S3 and compatible
// providers, grounded on the teacher's backend/s3/s3.go: a bucket/path
// split at construction time, CopyObject for server-side copy, presigned
// GetObject URLs for direct links.
package s3

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/arkstor/gatewayfs/driver"
)

func init() {
	driver.Register(&driver.Kind{
		Name:        "s3",
		Description: "Amazon S3 compliant object storage",
		Options: []driver.Option{
			{Name: "bucket", Help: "Bucket name.", Required: true},
			{Name: "region", Help: "AWS region.", Default: "us-east-1"},
			{Name: "endpoint", Help: "Custom S3-compatible endpoint URL (blank for AWS)."},
			{Name: "access_key_id", Help: "Access key ID.", Sensitive: true},
			{Name: "secret_access_key", Help: "Secret access key.", Sensitive: true},
			{Name: "root", Help: "Key prefix this mount is rooted at inside the bucket."},
			{Name: "force_path_style", Help: "Use path-style addressing (required by most non-AWS providers).", Type: "bool", Default: true},
		},
		New: NewFs,
	})
}

// Fs is a live S3 driver instance.
type Fs struct {
	bucket string
	root   string // key prefix, no leading/trailing slash
	client *s3.S3
	up     *s3manager.Uploader
	down   *s3manager.Downloader
}

// NewFs constructs an S3 driver from a validated config.
func NewFs(_ context.Context, name string, cfg driver.Config) (driver.Driver, error) {
	bucket, ok := cfg.Get("bucket")
	if !ok || bucket == "" {
		return nil, &driver.ConfigError{Field: "bucket", Reason: "required"}
	}
	region := cfg.GetDefault("region", "us-east-1")
	ak, _ := cfg.Get("access_key_id")
	sk, _ := cfg.Get("secret_access_key")
	endpoint, _ := cfg.Get("endpoint")
	root := strings.Trim(cfg.GetDefault("root", ""), "/")

	awsCfg := aws.NewConfig().WithRegion(region).WithS3ForcePathStyle(cfg.GetDefault("force_path_style", "true") == "true")
	if ak != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(ak, sk, ""))
	}
	if endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(endpoint)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, driver.NewError(driver.KindPermanent, "create aws session", err)
	}
	client := s3.New(sess)
	return &Fs{
		bucket: bucket,
		root:   root,
		client: client,
		up:     s3manager.NewUploaderWithClient(client),
		down:   s3manager.NewDownloaderWithClient(client),
	}, nil
}

func (f *Fs) Name() string { return "s3" }

func (f *Fs) Capabilities() driver.Capability {
	return driver.CapList | driver.CapRead | driver.CapReadRange |
		driver.CapWriteStream | driver.CapWriteWhole | driver.CapDelete |
		driver.CapMkdir | driver.CapMove | driver.CapCopy | driver.CapDirectLink |
		driver.HashCapability(driver.HashMD5)
}

func (f *Fs) key(innerPath string) string {
	p := strings.Trim(path.Clean("/"+innerPath), "/")
	if f.root == "" {
		return p
	}
	if p == "" {
		return f.root
	}
	return f.root + "/" + p
}

func (f *Fs) List(ctx context.Context, innerPath string) ([]driver.Entry, error) {
	prefix := f.key(innerPath)
	if prefix != "" {
		prefix += "/"
	}
	out := []driver.Entry{}
	seenDirs := map[string]bool{}
	var token *string
	for {
		resp, err := f.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(f.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, classify(err)
		}
		for _, cp := range resp.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			if name == "" || seenDirs[name] {
				continue
			}
			seenDirs[name] = true
			out = append(out, driver.Entry{Name: name, IsDir: true, Provider: "s3"})
		}
		for _, obj := range resp.Contents {
			name := strings.TrimPrefix(*obj.Key, prefix)
			if name == "" {
				continue
			}
			mt := *obj.LastModified
			out = append(out, driver.Entry{
				Name:     name,
				Size:     uint64(*obj.Size),
				Modified: &mt,
				Provider: "s3",
				Hashes:   map[string]string{"etag": strings.Trim(*obj.ETag, `"`)},
			})
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

type s3Reader struct {
	io.ReadCloser
	size int64
}

func (r *s3Reader) Size() int64 { return r.size }

func (f *Fs) OpenReader(ctx context.Context, innerPath string, rng *driver.Range) (driver.Reader, error) {
	in := &s3.GetObjectInput{Bucket: aws.String(f.bucket), Key: aws.String(f.key(innerPath))}
	if rng != nil {
		if rng.ToEnd() {
			in.Range = aws.String("bytes=" + itoa(rng.Start) + "-")
		} else {
			in.Range = aws.String("bytes=" + itoa(rng.Start) + "-" + itoa(rng.End-1))
		}
	}
	resp, err := f.client.GetObjectWithContext(ctx, in)
	if err != nil {
		return nil, classify(err)
	}
	size := int64(-1)
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	return &s3Reader{ReadCloser: resp.Body, size: size}, nil
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (f *Fs) Put(ctx context.Context, innerPath string, src driver.ByteSource, sizeHint int64, progress driver.ProgressFunc) error {
	pr := &progressReader{r: src, progress: progress, total: uint64(0)}
	if sizeHint > 0 {
		pr.total = uint64(sizeHint)
	}
	_, err := f.up.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(innerPath)),
		Body:   pr,
	})
	return classify(err)
}

type progressReader struct {
	r        io.Reader
	done     uint64
	total    uint64
	progress driver.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += uint64(n)
	if p.progress != nil {
		p.progress(p.done, p.total)
	}
	return n, err
}

type s3Writer struct {
	pw     *io.PipeWriter
	done   chan error
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.pw.Write(p) }
func (w *s3Writer) Close() error {
	_ = w.pw.Close()
	return <-w.done
}

func (f *Fs) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- f.Put(ctx, innerPath, pr, sizeHint, progress)
	}()
	return &s3Writer{pw: pw, done: done}, nil
}

func (f *Fs) Delete(ctx context.Context, innerPath string) error {
	_, err := f.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket), Key: aws.String(f.key(innerPath)),
	})
	return classify(err)
}

// CreateDir writes an empty zero-byte marker object ending in "/", the
// teacher's own workaround for S3 having no real directory concept
// (backend/s3/s3.go's createDirectoryMarker).
func (f *Fs) CreateDir(ctx context.Context, innerPath string) error {
	key := f.key(innerPath) + "/"
	_, err := f.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket), Key: aws.String(key), Body: strings.NewReader(""),
	})
	return classify(err)
}

func (f *Fs) Rename(ctx context.Context, innerPath, newName string) error {
	dst := path.Join(path.Dir(innerPath), newName)
	return f.MoveItem(ctx, innerPath, dst)
}

func (f *Fs) MoveItem(ctx context.Context, src, dst string) error {
	if err := f.CopyItem(ctx, src, dst); err != nil {
		return err
	}
	return f.Delete(ctx, src)
}

func (f *Fs) CopyItem(ctx context.Context, src, dst string) error {
	_, err := f.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(f.bucket),
		Key:        aws.String(f.key(dst)),
		CopySource: aws.String(f.bucket + "/" + f.key(src)),
	})
	return classify(err)
}

// DirectLink returns a presigned GetObject URL valid for 1 hour, mirrored
// from the teacher's PublicLink.
func (f *Fs) DirectLink(ctx context.Context, innerPath string) (string, error) {
	req, _ := f.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(f.bucket), Key: aws.String(f.key(innerPath)),
	})
	url, err := req.Presign(1 * time.Hour)
	if err != nil {
		return "", classify(err)
	}
	return url, nil
}

func (f *Fs) SpaceInfo(ctx context.Context) (*driver.SpaceInfo, error) {
	return nil, driver.ErrUnsupported("space_info")
}

func (f *Fs) SupportedHashes() []driver.HashKind { return []driver.HashKind{driver.HashMD5} }

func (f *Fs) Hash(ctx context.Context, innerPath string, kind driver.HashKind) (string, error) {
	if kind != driver.HashMD5 {
		return "", driver.ErrUnsupported("hash kind")
	}
	resp, err := f.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket), Key: aws.String(f.key(innerPath)),
	})
	if err != nil {
		return "", classify(err)
	}
	return strings.Trim(aws.StringValue(resp.ETag), `"`), nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchKey"), strings.Contains(msg, "NotFound"), strings.Contains(msg, "404"):
		return driver.NewError(driver.KindNotFound, msg, err)
	case strings.Contains(msg, "AccessDenied"), strings.Contains(msg, "InvalidAccessKeyId"), strings.Contains(msg, "SignatureDoesNotMatch"):
		return driver.NewError(driver.KindAuth, msg, err)
	case strings.Contains(msg, "SlowDown"), strings.Contains(msg, "429"):
		return driver.NewError(driver.KindRateLimited, msg, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "EOF"):
		return driver.NewError(driver.KindTransient, msg, err)
	default:
		return driver.NewError(driver.KindPermanent, msg, err)
	}
}
