package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// 证书有效期与续期窗口
const (
	certValidity  = 825 * 24 * time.Hour
	renewalWindow = 30 * 24 * time.Hour
)

// Manager 自签名证书管理器
//
// 为每个实例生成独立的 RSA 密钥对与服务器证书；伪装站点证书同样由
// Generate 签发，仅主体域名不同。证书与私钥均以 0644 写出：引擎进程
// 通常运行在与面板不同的系统用户下，需要可读权限，这是有意的取舍。
type Manager struct {
	log *logrus.Logger
}

func NewManager(log *logrus.Logger) *Manager {
	return &Manager{log: log}
}

// Generate 在 dir 下生成 server.crt / server.key，返回两者路径。
// 重复调用会原子覆盖旧文件，新旧证书不会混用。
func (m *Manager) Generate(dir, subject string, extraDNS ...string) (certPath, keyPath string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", fmt.Errorf("生成 RSA 密钥失败: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("生成证书序列号失败: %w", err)
	}

	hostname, _ := os.Hostname()
	dnsNames := []string{subject, "localhost"}
	if hostname != "" && hostname != subject {
		dnsNames = append(dnsNames, hostname)
	}
	dnsNames = append(dnsNames, extraDNS...)

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   subject,
			Organization: []string{"ProxyPanel"},
		},
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(certValidity),
		// 明确非 CA：不允许签发下级证书
		IsCA:                  false,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              dnsNames,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("签发证书失败: %w", err)
	}

	certPath = filepath.Join(dir, "server.crt")
	keyPath = filepath.Join(dir, "server.key")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	if err := writeFileAtomic(certPath, certPEM, 0644); err != nil {
		return "", "", fmt.Errorf("保存证书文件失败: %w", err)
	}
	if err := writeFileAtomic(keyPath, keyPEM, 0644); err != nil {
		return "", "", fmt.Errorf("保存私钥文件失败: %w", err)
	}

	m.log.Infof("[证书][%s] 已签发自签名证书，有效期至 %s", subject,
		template.NotAfter.Format("2006-01-02"))
	return certPath, keyPath, nil
}

// NeedsRenewal 判断证书是否缺失或临近到期
func (m *Manager) NeedsRenewal(certPath string) bool {
	expireAt, err := parseCertExpiry(certPath)
	if err != nil {
		return true
	}
	return time.Until(*expireAt) < renewalWindow
}

// parseCertExpiry 从 PEM 证书文件中解析到期时间
func parseCertExpiry(certPath string) (*time.Time, error) {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("无法解析 PEM 数据")
	}
	x509Cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("解析 X.509 证书失败: %w", err)
	}
	expiry := x509Cert.NotAfter
	return &expiry, nil
}

// writeFileAtomic 先写临时文件再重命名，避免引擎读到半截文件
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
