package monitor

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Linux CDROM ioctl numbers from <linux/cdrom.h>.
const (
	ioctlCDROMEject       = 0x5309
	ioctlCDROMDriveStatus = 0x5326
)

// Drive status values returned by CDROM_DRIVE_STATUS.
const (
	DriveStatusNoInfo   = 0
	DriveStatusNoDisc   = 1
	DriveStatusTrayOpen = 2
	DriveStatusNotReady = 3
	DriveStatusDiscOK   = 4
)

// Eject asks the kernel to open the tray. It is independent of the poll
// loop; the subsequent removal is observed as a normal state change.
func Eject(drive string) error {
	fd, err := openDrive(drive)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if _, err := unix.IoctlRetInt(fd, ioctlCDROMEject); err != nil {
		return fmt.Errorf("eject %s: %w", drive, err)
	}
	return nil
}

// DriveStatus queries the tray state via CDROM_DRIVE_STATUS.
func DriveStatus(drive string) (int, error) {
	fd, err := openDrive(drive)
	if err != nil {
		return DriveStatusNoInfo, err
	}
	defer unix.Close(fd)

	status, err := unix.IoctlRetInt(fd, ioctlCDROMDriveStatus)
	if err != nil {
		return DriveStatusNoInfo, fmt.Errorf("drive status %s: %w", drive, err)
	}
	return status, nil
}

func openDrive(drive string) (int, error) {
	drive = strings.TrimSpace(drive)
	if drive == "" {
		return -1, fmt.Errorf("drive path is empty")
	}
	fd, err := unix.Open(drive, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", drive, err)
	}
	return fd, nil
}
