package utils

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/idna"
)

// GenerateKey 生成随机 key
func GenerateKey(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return hex.EncodeToString(b)[:length]
}

// HashPassword 对密码进行 bcrypt 哈希
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword 校验密码与 bcrypt 哈希是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// ValidatePort 验证端口号
func ValidatePort(port int) bool {
	return port >= 1 && port <= 65535
}

// instanceNameRe 实例名限制为文件系统安全字符集
var instanceNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateInstanceName 验证实例名（字符集 + 路径穿越）
func ValidateInstanceName(name string) bool {
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return false
	}
	return instanceNameRe.MatchString(name)
}

// ValidateHostPort 验证 host:port 格式的转发地址
func ValidateHostPort(addr string) bool {
	if addr == "" {
		return false
	}
	// 空白与路径字符一律视为非法
	if strings.ContainsAny(addr, " \t/") {
		return false
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "" {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return false
	}
	return ValidatePort(port)
}

// NormalizeDomain 规范化域名（小写 + punycode），非法域名返回空串
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return ""
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return ""
	}
	return ascii
}

// ValidateIP 验证 IP 地址
func ValidateIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
