package uploader

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"time"

	"refund_engine/internal/pkg/config"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
)

// Uploader 凭证文件上传接口
// 手工退款/银行转账需要管理员附上转账凭证，凭证存 OSS，路径落在网关流水上
type Uploader interface {
	UploadProof(file *multipart.FileHeader, refundReference string) (string, error)
}

type AliyunOSSUploader struct {
	client *oss.Client
	bucket *oss.Bucket
	config config.OSSConfig
}

func NewAliyunOSSUploader() (*AliyunOSSUploader, error) {
	cfg := config.GlobalConfig.OSS
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, err
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, err
	}

	return &AliyunOSSUploader{
		client: client,
		bucket: bucket,
		config: cfg,
	}, nil
}

// UploadProof 上传退款凭证，按退款单号归档：refund-proofs/<reference>/<uuid>.ext
func (u *AliyunOSSUploader) UploadProof(file *multipart.FileHeader, refundReference string) (string, error) {
	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	ext := filepath.Ext(file.Filename)
	objectKey := fmt.Sprintf("refund-proofs/%s/%s%s", refundReference, uuid.New().String(), ext)

	if err := u.bucket.PutObject(objectKey, src); err != nil {
		return "", err
	}

	// 凭证是财务资料，返回对象路径而不是公开 URL，读取走签名 URL
	return objectKey, nil
}

// SignProofURL 生成带过期时间的凭证访问链接（管理后台查看用）
func (u *AliyunOSSUploader) SignProofURL(objectKey string) (string, error) {
	return u.bucket.SignURL(objectKey, oss.HTTPGet, int64((time.Minute * 15).Seconds()))
}

// GlobalUploader instance
var GlobalUploader Uploader

func InitUploader() error {
	uploader, err := NewAliyunOSSUploader()
	if err != nil {
		return err
	}
	GlobalUploader = uploader
	return nil
}
