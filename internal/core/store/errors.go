package store

import "errors"

var errNoLoader = errors.New("缓存未配置加载函数")
