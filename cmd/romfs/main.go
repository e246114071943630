package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"

	"github.com/clktmr/ps2/rom"
	"github.com/kballard/go-shellquote"
	"rsc.io/rsc/fuse"
)

func must[T any](ret T, err error) T {
	if err != nil {
		fmt.Print(err)
		os.Exit(1)
	}
	return ret
}

const usageString = `Rom Image File System Utility.

Usage:

	%s <command> [arguments]

The commands are:

	ls <image>		list files with their extended info
	cat <image> <file>	write a file's contents to stdout
	extract <image> <dir>	extract all files into a directory
	mount <image> <dir>	serve a rom image via fuse
`

var run = flag.String("run", "", "with mount, run command and unmount when it exits")

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), usageString, os.Args[0])
	flag.PrintDefaults()
}

func openImage(path string) *rom.FS {
	r := must(os.Open(path))
	stat := must(r.Stat())
	return must(rom.Read(r, stat.Size()))
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "ls":
		fsys := openImage(flag.Arg(1))
		for _, e := range must(fsys.ReadDir(".")) {
			info := must(e.Info())
			ext := must(fsys.ExtInfo(e.Name()))
			date := ""
			if !ext.Date.IsZero() {
				date = ext.Date.Format("2006-01-02")
			}
			fmt.Printf("%-10s %8d %5x %-10s %s\n",
				e.Name(), info.Size(), ext.Version, date, ext.Comment)
		}
	case "cat":
		if flag.NArg() < 3 {
			flag.Usage()
			os.Exit(1)
		}
		fsys := openImage(flag.Arg(1))
		f := must(fsys.Open(flag.Arg(2)))
		must(io.Copy(os.Stdout, f))
	case "extract":
		if flag.NArg() < 3 {
			flag.Usage()
			os.Exit(1)
		}
		fsys := openImage(flag.Arg(1))
		dir := flag.Arg(2)
		for _, e := range must(fsys.ReadDir(".")) {
			data := must(fsys.ReadFile(e.Name()))
			path := filepath.Join(dir, e.Name())
			must(0, os.WriteFile(path, data, 0o644))
		}
	case "mount":
		if flag.NArg() < 3 {
			flag.Usage()
			os.Exit(1)
		}
		dir := flag.Arg(2)
		c := must(fuse.Mount(dir))
		fsys := openImage(flag.Arg(1))
		go c.Serve(&FS{fsys})

		if *run != "" {
			args := must(shellquote.Split(*run))
			cmd := exec.Command(args[0], args[1:]...)
			cmd.Stdin = os.Stdin
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				fmt.Println(err)
			}
		} else {
			sigintr := make(chan os.Signal, 1)
			signal.Notify(sigintr, os.Interrupt)
			<-sigintr
		}

		cmd := exec.Command("/bin/umount", dir)
		must(cmd.CombinedOutput())
	default:
		fmt.Fprintf(flag.CommandLine.Output(), "%s: unknown command\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}
}
